package core

import (
	"errors"
)

var (
	ErrDescriptorPageExhausted   = errors.New("descriptor page exhausted")
	ErrDescriptorDoubleFree      = errors.New("descriptor slot already free")
	ErrDescriptorSlotOutOfRange  = errors.New("descriptor slot out of range")
	ErrInvalidDescriptorCategory = errors.New("invalid descriptor category")
	ErrFrameHeapOverflow         = errors.New("frame descriptor heap reservation exceeded")
	ErrRingHeapTooSmall          = errors.New("write larger than the constant ring heap")
	ErrCacheConstruction         = errors.New("failed to construct cached gpu object")
	ErrFenceTimeout              = errors.New("fence wait timed out")
	ErrDeviceLost                = errors.New("device lost")
	ErrFrameAbandoned            = errors.New("frame abandoned")
	ErrNotRecording              = errors.New("no frame is being recorded")
	ErrInvalidConfig             = errors.New("invalid configuration")
	ErrInvalidAsset              = errors.New("invalid asset")
	ErrAssetNotFound             = errors.New("asset not found")
	ErrNoLoader                  = errors.New("no loader registered for asset type")
	ErrUnknown                   = errors.New("unknown")
)
