package metadata

/** Definition for jobs. The returned value is passed to OnComplete. */
type JobStart func(params interface{}) (interface{}, error)

/** Definition for completion of a job. */
type JobOnComplete func(result interface{})

/** Definition for failure of a job. */
type JobOnFailure func(err error)

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Invoked on a worker when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked on the worker when the job succeeds. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked on the worker when the job fails. Optional. */
	OnFailure JobOnFailure
	/** @brief Data passed to the entry point. */
	InputParams interface{}
}
