package metadata

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStagePixel
	ShaderStageCompute
)

/**
 * @brief Compiled shader byte code. Identity is the byte code plus the entry
 * point; the name is only used for diagnostics.
 */
type ShaderBytecode struct {
	Name       string
	Stage      ShaderStage
	EntryPoint string
	Code       []byte
}

func (s *ShaderBytecode) IsEmpty() bool {
	return len(s.Code) == 0
}

func (s *ShaderBytecode) appendKey(k *KeyBuilder) {
	k.Uint8(uint8(s.Stage)).String(s.EntryPoint).Bytes(s.Code)
}
