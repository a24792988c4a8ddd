// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/765859220/verl/internal/checkpoint"
	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/tensor"
)

func testModelConfig() *config.ModelConfig {
	return &config.ModelConfig{
		ModelType:    "llama",
		VocabSize:    8,
		HiddenSize:   4,
		NumLayers:    1,
		NumHeads:     2,
		Intermediate: 6,
		NormEps:      1e-5,
		DTypeName:    "float32",
	}
}

// checkpoint entries for testModelConfig, unsharded. Tensor i is filled with
// 100*(i+1) + flat index; axis is the tensor-parallel split axis.
var ckptEntries = []struct {
	name  string
	shape tensor.Shape
	axis  int
}{
	{"embed.weight", tensor.Shape{8, 4}, 0},
	{"layers.0.norm1.weight", tensor.Shape{4}, tensor.ReplicatedAxis},
	{"layers.0.attn.q.weight", tensor.Shape{4, 4}, 0},
	{"layers.0.attn.k.weight", tensor.Shape{4, 4}, 0},
	{"layers.0.attn.v.weight", tensor.Shape{4, 4}, 0},
	{"layers.0.attn.o.weight", tensor.Shape{4, 4}, 1},
	{"layers.0.norm2.weight", tensor.Shape{4}, tensor.ReplicatedAxis},
	{"layers.0.ffn.gate.weight", tensor.Shape{6, 4}, 0},
	{"layers.0.ffn.up.weight", tensor.Shape{6, 4}, 0},
	{"layers.0.ffn.down.weight", tensor.Shape{4, 6}, 1},
	{"norm.weight", tensor.Shape{4}, tensor.ReplicatedAxis},
	{"lm_head.weight", tensor.Shape{8, 4}, 0},
}

func seqTensor(t *testing.T, shape tensor.Shape, base float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32)
	require.NoError(t, err)
	vals := r.AsFloat32()
	for i := range vals {
		vals[i] = base + float32(i)
	}
	return r
}

func fullCheckpoint(t *testing.T) FullSource {
	t.Helper()
	out := make(FullSource, len(ckptEntries))
	for i, e := range ckptEntries {
		out[e.name] = seqTensor(t, e.shape, float32(100*(i+1)))
	}
	return out
}

func findParam(t *testing.T, m *nn.Model, name string) *nn.Parameter {
	t.Helper()
	for _, np := range nn.NamedParameters(m) {
		if np.Name == name {
			return np.Param
		}
	}
	t.Fatalf("parameter %q not found", name)
	return nil
}

// readF32 reads a device-resident float32 parameter back as values.
func readF32(t *testing.T, dev device.Device, p *nn.Parameter) []float32 {
	t.Helper()
	raw, err := dev.Read(p.Data())
	require.NoError(t, err)
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func loadWith(t *testing.T, format string, cfg *config.ModelConfig, par config.ParallelConfig,
	src any, dev device.Device) *nn.Model {
	t.Helper()
	ml, err := GetLoader(Config{Format: format})
	require.NoError(t, err)
	model, err := ml.Load(cfg, par, src, dev)
	require.NoError(t, err)
	return model
}

func assertFinalized(t *testing.T, m *nn.Model) {
	t.Helper()
	assert.False(t, m.Training(), "finalized model must be in eval mode")
	for _, np := range nn.NamedParameters(m) {
		assert.False(t, np.Param.Data().IsHost(), "%s still on host after finalize", np.Name)
	}
}

func TestFullLoad(t *testing.T) {
	dev := device.NewFake()
	model := loadWith(t, "full", testModelConfig(), config.ParallelConfig{}, fullCheckpoint(t), dev)
	assertFinalized(t, model)

	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	assert.Equal(t, float32(100), embed[0])
	assert.Equal(t, float32(131), embed[31])

	// Fused q/k/v slots in order.
	qkv := readF32(t, dev, findParam(t, model, "layers.0.attn.qkv.weight"))
	assert.Equal(t, float32(300), qkv[0])
	assert.Equal(t, float32(400), qkv[16])
	assert.Equal(t, float32(500), qkv[32])
}

func TestFullLoadPartitioned(t *testing.T) {
	dev := device.NewFake()
	par := config.ParallelConfig{TPRank: 1, TPSize: 2}
	model := loadWith(t, "full", testModelConfig(), par, fullCheckpoint(t), dev)

	// Rank 1 holds the second half of each column-parallel tensor.
	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	require.Len(t, embed, 16)
	assert.Equal(t, float32(116), embed[0])

	// Fused slots are sliced per projection: q rows 2..3, then k, then v.
	qkv := readF32(t, dev, findParam(t, model, "layers.0.attn.qkv.weight"))
	require.Len(t, qkv, 24)
	assert.Equal(t, float32(308), qkv[0])
	assert.Equal(t, float32(408), qkv[8])
	assert.Equal(t, float32(508), qkv[16])

	// Row-parallel o keeps its rows, split along the input dim.
	o := readF32(t, dev, findParam(t, model, "layers.0.attn.o.weight"))
	require.Len(t, o, 8)
	assert.Equal(t, float32(602), o[0])
	assert.Equal(t, float32(603), o[1])
	assert.Equal(t, float32(606), o[2])

	// Replicated tensors arrive whole on every rank.
	norm := readF32(t, dev, findParam(t, model, "norm.weight"))
	assert.Equal(t, []float32{1100, 1101, 1102, 1103}, norm)
}

func TestFullLoadBadSource(t *testing.T) {
	ml, err := GetLoader(Config{Format: "full"})
	require.NoError(t, err)
	_, err = ml.Load(testModelConfig(), config.ParallelConfig{}, 42, device.NewFake())
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestFullLoadIncompleteCheckpoint(t *testing.T) {
	ckpt := fullCheckpoint(t)
	delete(ckpt, "norm.weight")
	ml, err := GetLoader(Config{Format: "full"})
	require.NoError(t, err)
	_, err = ml.Load(testModelConfig(), config.ParallelConfig{}, ckpt, device.NewFake())
	assert.ErrorContains(t, err, "transfer weights")
	assert.ErrorContains(t, err, "not covered")
}

func TestShardedLoadFromShardLists(t *testing.T) {
	src := make(ShardedSource, len(ckptEntries))
	for i, e := range ckptEntries {
		full := seqTensor(t, e.shape, float32(100*(i+1)))
		if e.axis == tensor.ReplicatedAxis {
			src[e.name] = []*tensor.RawTensor{full}
			continue
		}
		half := e.shape[e.axis] / 2
		lo, err := tensor.Narrow(full, e.axis, 0, half)
		require.NoError(t, err)
		hi, err := tensor.Narrow(full, e.axis, half, half)
		require.NoError(t, err)
		src[e.name] = []*tensor.RawTensor{lo, hi}
	}

	dev := device.NewFake()
	model := loadWith(t, "sharded", testModelConfig(), config.ParallelConfig{}, src, dev)
	assertFinalized(t, model)

	// Shard reassembly reproduces the unsharded values.
	qkv := readF32(t, dev, findParam(t, model, "layers.0.attn.qkv.weight"))
	assert.Equal(t, float32(300), qkv[0])
	assert.Equal(t, float32(415), qkv[31])
	down := readF32(t, dev, findParam(t, model, "layers.0.ffn.down.weight"))
	assert.Equal(t, float32(1000), down[0])
	assert.Equal(t, float32(1023), down[23])
}

func TestShardedLoadRejectsShardedReplicated(t *testing.T) {
	src := ShardedSource{}
	for i, e := range ckptEntries {
		src[e.name] = []*tensor.RawTensor{seqTensor(t, e.shape, float32(100 * (i + 1)))}
	}
	norm := seqTensor(t, tensor.Shape{4}, 1100)
	src["norm.weight"] = []*tensor.RawTensor{norm, norm}

	ml, err := GetLoader(Config{Format: "sharded"})
	require.NoError(t, err)
	_, err = ml.Load(testModelConfig(), config.ParallelConfig{}, src, device.NewFake())
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestShardedLoadFromLiveModule(t *testing.T) {
	src := &srcModule{}
	for i, e := range ckptEntries {
		src.params = append(src.params,
			nn.NewParameter(e.name, seqTensor(t, e.shape, float32(100*(i+1)))))
	}

	dev := device.NewFake()
	model := loadWith(t, "auto", testModelConfig(), config.ParallelConfig{}, src, dev)
	assertFinalized(t, model)

	// The live source was staged on the device and restored afterwards.
	for _, p := range src.params {
		assert.True(t, p.Data().IsHost(), "source %s not restored", p.Name())
	}
	assert.Equal(t, float32(100), src.params[0].Data().AsFloat32()[0])

	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	assert.Equal(t, float32(100), embed[0])
}

func TestFullLoadFromLiveModule(t *testing.T) {
	src := &srcModule{}
	for i, e := range ckptEntries {
		src.params = append(src.params,
			nn.NewParameter(e.name, seqTensor(t, e.shape, float32(100*(i+1)))))
	}

	dev := device.NewFake()
	model := loadWith(t, "full", testModelConfig(), config.ParallelConfig{}, src, dev)
	assertFinalized(t, model)

	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	assert.Equal(t, float32(100), embed[0])
	qkv := readF32(t, dev, findParam(t, model, "layers.0.attn.qkv.weight"))
	assert.Equal(t, float32(400), qkv[16])

	// The source module is read in place, never staged or mutated.
	for _, p := range src.params {
		assert.True(t, p.Data().IsHost(), "source %s moved during load", p.Name())
	}
}

func TestTensorTableLoad(t *testing.T) {
	table := make(TensorTable, len(ckptEntries))
	for i, e := range ckptEntries {
		full := seqTensor(t, e.shape, float32(100*(i+1)))
		if e.axis == tensor.ReplicatedAxis {
			table[e.name] = full
			continue
		}
		// Hand over placement-aware shards, deliberately out of order.
		half := e.shape[e.axis] / 2
		lo, err := tensor.Narrow(full, e.axis, 0, half)
		require.NoError(t, err)
		hi, err := tensor.Narrow(full, e.axis, half, half)
		require.NoError(t, err)
		d, err := tensor.NewDistributed([]tensor.Shard{
			{Placement: tensor.Placement{Axis: e.axis, Index: 1}, Local: hi},
			{Placement: tensor.Placement{Axis: e.axis, Index: 0}, Local: lo},
		})
		require.NoError(t, err)
		table[e.name] = d
	}

	dev := device.NewFake()
	model := loadWith(t, "tensor-table", testModelConfig(), config.ParallelConfig{}, table, dev)
	assertFinalized(t, model)

	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	assert.Equal(t, float32(100), embed[0])
	assert.Equal(t, float32(131), embed[31])
}

func TestTensorTableLoadFromLiveModule(t *testing.T) {
	src := &srcModule{}
	for i, e := range ckptEntries {
		src.params = append(src.params,
			nn.NewParameter(e.name, seqTensor(t, e.shape, float32(100*(i+1)))))
	}

	dev := device.NewFake()
	model := loadWith(t, "tensor-table", testModelConfig(), config.ParallelConfig{}, src, dev)
	assertFinalized(t, model)

	norm := readF32(t, dev, findParam(t, model, "norm.weight"))
	assert.Equal(t, []float32{1100, 1101, 1102, 1103}, norm)
}

func TestTensorTableRejectsBadEntry(t *testing.T) {
	table := TensorTable{"embed.weight": "not a tensor"}
	ml, err := GetLoader(Config{Format: "tensor-table"})
	require.NoError(t, err)
	_, err = ml.Load(testModelConfig(), config.ParallelConfig{}, table, device.NewFake())
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestDummyLoad(t *testing.T) {
	dev := device.NewFake()
	model := loadWith(t, "dummy-sharded", testModelConfig(), config.ParallelConfig{}, nil, dev)
	assertFinalized(t, model)

	// No weights were transferred; the skeleton's initialization remains.
	norm := readF32(t, dev, findParam(t, model, "norm.weight"))
	assert.Equal(t, []float32{0, 0, 0, 0}, norm)
}

func TestDummyLoadMatchesRealLayout(t *testing.T) {
	dev := device.NewFake()
	par := config.ParallelConfig{TPRank: 0, TPSize: 2}
	dummy := loadWith(t, "dummy-full", testModelConfig(), par, nil, dev)
	loaded := loadWith(t, "full", testModelConfig(), par, fullCheckpoint(t), device.NewFake())

	dummyParams := nn.NamedParameters(dummy)
	loadedParams := nn.NamedParameters(loaded)
	require.Equal(t, len(loadedParams), len(dummyParams))
	for i := range loadedParams {
		assert.Equal(t, loadedParams[i].Name, dummyParams[i].Name)
		assert.True(t, loadedParams[i].Param.Data().Shape().Equal(dummyParams[i].Param.Data().Shape()),
			"%s layout differs between dummy and real load", loadedParams[i].Name)
	}
}

func TestDummyLoadRejectsSource(t *testing.T) {
	ml, err := GetLoader(Config{Format: "dummy-full"})
	require.NoError(t, err)
	_, err = ml.Load(testModelConfig(), config.ParallelConfig{}, fullCheckpoint(t), device.NewFake())
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestQuantizedLoadRepacksProjections(t *testing.T) {
	cfg := testModelConfig()
	cfg.Quantization = "rowwise-int8"
	dev := device.NewFake()
	model := loadWith(t, "full", cfg, config.ParallelConfig{}, fullCheckpoint(t), dev)
	assertFinalized(t, model)

	// Projection weights were repacked on the device: int8 payload plus a
	// per-row scale, so the byte size shrank.
	qkv := findParam(t, model, "layers.0.attn.qkv.weight").Data()
	assert.Equal(t, tensor.Int8, qkv.DType())
	assert.True(t, qkv.Shape().Equal(tensor.Shape{12, 8}), "shape = %v", qkv.Shape())

	// Non-projection parameters keep their dtype.
	assert.Equal(t, tensor.Float32, findParam(t, model, "embed.weight").Data().DType())
	assert.Equal(t, tensor.Float32, findParam(t, model, "norm.weight").Data().DType())
}

func TestQuantizedShardedLoadRepacksOnDevice(t *testing.T) {
	cfg := testModelConfig()
	cfg.Quantization = "rowwise-int8"
	src := make(ShardedSource, len(ckptEntries))
	for i, e := range ckptEntries {
		src[e.name] = []*tensor.RawTensor{seqTensor(t, e.shape, float32(100*(i+1)))}
	}

	dev := device.NewFake()
	model := loadWith(t, "sharded", cfg, config.ParallelConfig{}, src, dev)
	assertFinalized(t, model)

	qkv := findParam(t, model, "layers.0.attn.qkv.weight").Data()
	assert.Equal(t, tensor.Int8, qkv.DType())
	assert.True(t, qkv.Shape().Equal(tensor.Shape{12, 8}), "shape = %v", qkv.Shape())

	// 9 parameter uploads right after transfer, then one read and one write
	// per repacked projection. The skeleton never round-trips to the host.
	assert.Equal(t, uint64(9+2*5), dev.TransferCount())

	// The host-built full variant pays the scope traffic instead: each of
	// the 5 repacked projections migrates in, repacks, and restores before
	// the finalize move uploads all 9 parameters.
	fullDev := device.NewFake()
	loadWith(t, "full", cfg, config.ParallelConfig{}, fullCheckpoint(t), fullDev)
	assert.Equal(t, uint64(5*4+9), fullDev.TransferCount())
}

// recordingQuant logs its invocation and where the weight lived.
type recordingQuant struct {
	log      *[]string
	onDevice bool
}

func (q *recordingQuant) ProcessWeightsAfterLoading(m nn.Module, dev device.Device) error {
	*q.log = append(*q.log, "quant")
	q.onDevice = !m.Parameters()[0].Data().IsHost()
	return nil
}

// hookedModule exposes both finishing hooks on one module.
type hookedModule struct {
	param    *nn.Parameter
	quant    nn.QuantMethod
	log      *[]string
	onDevice bool
}

func (m *hookedModule) Parameters() []*nn.Parameter { return []*nn.Parameter{m.param} }
func (m *hookedModule) Children() []nn.NamedModule  { return nil }
func (m *hookedModule) QuantMethod() nn.QuantMethod { return m.quant }

func (m *hookedModule) ProcessWeightsAfterLoading(dev device.Device) error {
	*m.log = append(*m.log, "hook")
	m.onDevice = !m.param.Data().IsHost()
	return nil
}

func TestPostProcessRunsBothHooksInScope(t *testing.T) {
	var log []string
	q := &recordingQuant{log: &log}
	m := &hookedModule{param: newParam(t, "w", tensor.Shape{4}, 1), quant: q, log: &log}
	dev := device.NewFake()

	require.NoError(t, postProcess(m, dev))

	// The quantization method and the direct hook both run, in that order.
	assert.Equal(t, []string{"quant", "hook"}, log)
	assert.True(t, q.onDevice, "quantization method must see device-resident operands")
	assert.True(t, m.onDevice, "direct hook must see device-resident operands")
	assert.True(t, m.param.Data().IsHost(), "parameter restored to host after the hooks")
	assert.Equal(t, []float32{1, 2, 3, 4}, m.param.Data().AsFloat32())
}

func TestFullLoadFromSafeTensorsFile(t *testing.T) {
	ckpt := fullCheckpoint(t)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, checkpoint.WriteSafeTensors(path, ckpt, nil))

	src, err := FullSourceFromFile(path)
	require.NoError(t, err)

	dev := device.NewFake()
	model := loadWith(t, "full", testModelConfig(), config.ParallelConfig{}, src, dev)
	embed := readF32(t, dev, findParam(t, model, "embed.weight"))
	assert.Equal(t, float32(100), embed[0])
	assert.Equal(t, float32(131), embed[31])
}

func TestLoaderReusableAcrossLoads(t *testing.T) {
	ml, err := GetLoader(Config{Format: "dummy-full"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := ml.Load(testModelConfig(), config.ParallelConfig{}, nil, device.NewFake())
		require.NoError(t, err, "load %d", i)
	}
}
