package metadata

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

/** @brief Determines face culling mode during rendering. */
type FaceCullMode uint8

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

var faceCullModeNames = []string{"none", "front", "back", "front_and_back"}

func (m *FaceCullMode) UnmarshalText(text []byte) (err error) {
	*m, err = parseName[FaceCullMode]("cull mode", faceCullModeNames, text)
	return err
}

type CompareFunc uint8

const (
	CompareFuncNever CompareFunc = iota
	CompareFuncLess
	CompareFuncEqual
	CompareFuncLessEqual
	CompareFuncGreater
	CompareFuncNotEqual
	CompareFuncGreaterEqual
	CompareFuncAlways
)

var compareFuncNames = []string{"never", "less", "equal", "less_equal", "greater", "not_equal", "greater_equal", "always"}

func (c *CompareFunc) UnmarshalText(text []byte) (err error) {
	*c, err = parseName[CompareFunc]("compare function", compareFuncNames, text)
	return err
}

type BlendFactor uint8

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
)

var blendFactorNames = []string{"zero", "one", "src_alpha", "one_minus_src_alpha", "dst_color", "one_minus_dst_color"}

func (b *BlendFactor) UnmarshalText(text []byte) (err error) {
	*b, err = parseName[BlendFactor]("blend factor", blendFactorNames, text)
	return err
}

type BlendOp uint8

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpMin
	BlendOpMax
)

var blendOpNames = []string{"add", "subtract", "min", "max"}

func (b *BlendOp) UnmarshalText(text []byte) (err error) {
	*b, err = parseName[BlendOp]("blend op", blendOpNames, text)
	return err
}

type PrimitiveTopology uint8

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyLineList
	PrimitiveTopologyPointList
)

var primitiveTopologyNames = []string{"triangle_list", "triangle_strip", "line_list", "point_list"}

func (p *PrimitiveTopology) UnmarshalText(text []byte) (err error) {
	*p, err = parseName[PrimitiveTopology]("topology", primitiveTopologyNames, text)
	return err
}

func parseName[T constraints.Unsigned](kind string, names []string, text []byte) (T, error) {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range names {
		if name == v {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, string(text))
}
