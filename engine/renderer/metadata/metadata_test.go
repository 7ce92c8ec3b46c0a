package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorCategoryText(t *testing.T) {
	var c DescriptorCategory
	require.NoError(t, c.UnmarshalText([]byte("Depth_Stencil")))
	assert.Equal(t, DescriptorCategoryDepthStencil, c)
	assert.Error(t, c.UnmarshalText([]byte("sampler")))

	assert.Equal(t, "unordered_access", DescriptorCategoryUnorderedAccess.String())
	assert.False(t, DescriptorCategoryCount.IsValid())
	assert.True(t, DescriptorCategoryShaderResource.IsShaderVisible())
	assert.False(t, DescriptorCategoryRenderTarget.IsShaderVisible())
}

func TestHeapConfigRanges(t *testing.T) {
	cfg := DescriptorHeapConfig{
		Ranges: []DescriptorRange{
			{Category: DescriptorCategoryShaderResource, Count: 8},
			{Category: DescriptorCategoryUnorderedAccess, Count: 4},
		},
		ShaderVisible: true,
	}
	assert.Equal(t, uint32(12), cfg.Capacity())

	start, ok := cfg.RangeStart(DescriptorCategoryUnorderedAccess)
	require.True(t, ok)
	assert.Equal(t, uint32(8), start)

	_, ok = cfg.RangeStart(DescriptorCategoryRenderTarget)
	assert.False(t, ok)

	heap := &DescriptorHeap{ID: 3, Config: cfg}
	assert.Equal(t, GPUDescriptorHandle{Heap: 3, Index: 9}, heap.GPUHandle(9))
	assert.Equal(t, CPUDescriptorHandle{Heap: 3, Index: 11}, heap.CPUHandle(9).Offset(2))

	heap.Config.ShaderVisible = false
	assert.False(t, heap.GPUHandle(0).IsValid())
	assert.False(t, InvalidCPUDescriptorHandle.IsValid())
}

func TestPipelineKeyIgnoresNames(t *testing.T) {
	a := PipelineStateDescription{
		Name:                "a",
		VertexShader:        ShaderBytecode{Name: "vs", EntryPoint: "main", Code: []byte{1, 2, 3}},
		PixelShader:         ShaderBytecode{Name: "ps", Stage: ShaderStagePixel, EntryPoint: "main", Code: []byte{4}},
		RenderTargetFormats: []Format{FormatRGBA8Unorm},
		DepthFormat:         FormatD32Float,
	}
	b := a
	b.Name = "b"
	b.VertexShader.Name = "renamed"

	ka, kb := &KeyBuilder{}, &KeyBuilder{}
	a.AppendKey(ka)
	b.AppendKey(kb)
	assert.Equal(t, ka.Result(), kb.Result())
	assert.Equal(t, HashKey(ka.Result()), HashKey(kb.Result()))

	c := a
	c.Rasterizer.CullMode = FaceCullModeBack
	kc := &KeyBuilder{}
	c.AppendKey(kc)
	assert.NotEqual(t, ka.Result(), kc.Result())
}

func TestKeyBuilderLengthPrefixes(t *testing.T) {
	a := (&KeyBuilder{}).String("ab").String("c").Result()
	b := (&KeyBuilder{}).String("a").String("bc").Result()
	assert.NotEqual(t, a, b)
}

func TestEnumText(t *testing.T) {
	var cmp CompareFunc
	require.NoError(t, cmp.UnmarshalText([]byte("less_equal")))
	assert.Equal(t, CompareFuncLessEqual, cmp)

	var use TextureUse
	require.NoError(t, use.UnmarshalText([]byte("normal")))
	assert.Equal(t, TextureUseMapNormal, use)

	var f Format
	require.NoError(t, f.UnmarshalText([]byte("d32_float")))
	assert.True(t, f.IsDepth())

	var s ResourceState
	require.NoError(t, s.UnmarshalText([]byte("present")))
	assert.Equal(t, ResourceStatePresent, s)

	var topo PrimitiveTopology
	assert.Error(t, topo.UnmarshalText([]byte("quads")))
}

func TestMipCountAndAlignment(t *testing.T) {
	assert.Equal(t, uint32(1), MipCount(1, 1))
	assert.Equal(t, uint32(9), MipCount(256, 128))
	assert.Equal(t, uint64(256), GetAligned(1, 256))
	assert.Equal(t, uint64(512), GetAligned(257, 256))
	assert.Equal(t, uint64(0), GetAligned(0, 256))
}

func TestInvalidDescriptorHandles(t *testing.T) {
	assert.Equal(t, uint32(InvalidID), uint32(InvalidDescriptorHeapID))
	assert.False(t, InvalidCPUDescriptorHandle.IsValid())
	assert.False(t, InvalidGPUDescriptorHandle.IsValid())

	h := CPUDescriptorHandle{Heap: 0, Index: 3}
	assert.True(t, h.IsValid())
	assert.False(t, CPUDescriptorHandle{Heap: InvalidDescriptorHeapID, Index: 3}.IsValid())
	assert.False(t, GPUDescriptorHandle{Heap: 1, Index: InvalidID}.IsValid())
}
