// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/tensor"
)

// Attention groups the fused qkv projection and the output projection.
type Attention struct {
	QKV *Linear
	O   *Linear
}

// Parameters returns nil; the projections own the parameters.
func (a *Attention) Parameters() []*Parameter { return nil }

// Children returns the projections.
func (a *Attention) Children() []NamedModule {
	return []NamedModule{{"qkv", a.QKV}, {"o", a.O}}
}

// FFN groups the fused gate/up projection and the down projection.
type FFN struct {
	GateUp *Linear
	Down   *Linear
}

// Parameters returns nil; the projections own the parameters.
func (f *FFN) Parameters() []*Parameter { return nil }

// Children returns the projections.
func (f *FFN) Children() []NamedModule {
	return []NamedModule{{"gate_up", f.GateUp}, {"down", f.Down}}
}

// Block is one transformer layer.
type Block struct {
	Attn  *Attention
	FFN   *FFN
	Norm1 *RMSNorm
	Norm2 *RMSNorm
}

// Parameters returns nil.
func (b *Block) Parameters() []*Parameter { return nil }

// Children returns the block's sub-modules.
func (b *Block) Children() []NamedModule {
	return []NamedModule{
		{"norm1", b.Norm1},
		{"attn", b.Attn},
		{"norm2", b.Norm2},
		{"ffn", b.FFN},
	}
}

// blockList exposes transformer layers under numeric child names.
type blockList []*Block

func (l blockList) Parameters() []*Parameter { return nil }

func (l blockList) Children() []NamedModule {
	out := make([]NamedModule, len(l))
	for i, b := range l {
		out[i] = NamedModule{Name: strconv.Itoa(i), Module: b}
	}
	return out
}

// Model is the skeleton the loader populates: a decoder-only transformer
// holding this rank's partition of every parameter.
type Model struct {
	cfg *config.ModelConfig
	par config.ParallelConfig

	embed  *Embedding
	layers blockList
	norm   *RMSNorm
	lmHead *Linear

	shardAxes map[string]int
	eval      bool
}

// fusedSlot maps a checkpoint-side projection onto its slice of a fused
// parameter. Matching is by module-name boundary within the qualified name.
type fusedSlot struct {
	target string
	source string
	index  int
	count  int
}

var fusedSlots = []fusedSlot{
	{"attn.qkv", "attn.q", 0, 3},
	{"attn.qkv", "attn.k", 1, 3},
	{"attn.qkv", "attn.v", 2, 3},
	{"ffn.gate_up", "ffn.gate", 0, 2},
	{"ffn.gate_up", "ffn.up", 1, 2},
}

// BuildSkeleton constructs the model graph under the config's forced dtype,
// holding only this rank's slice of each partitioned parameter. Parameters
// are zero-filled and host-resident; Finalize migrates them later. quant,
// when non-nil, attaches to every projection layer.
func BuildSkeleton(cfg *config.ModelConfig, par config.ParallelConfig, quant QuantMethod) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := par.Validate(); err != nil {
		return nil, err
	}
	tp := par.Size()
	if cfg.HiddenSize%tp != 0 || cfg.Intermediate%tp != 0 || cfg.VocabSize%tp != 0 {
		return nil, fmt.Errorf("dimensions (%d, %d, %d) not divisible by tensor-parallel size %d",
			cfg.HiddenSize, cfg.Intermediate, cfg.VocabSize, tp)
	}

	dtype, err := cfg.DType()
	if err != nil {
		return nil, err
	}
	bc := BuildContext{DType: dtype}

	m := &Model{cfg: cfg, par: par}
	if m.embed, err = NewEmbedding(bc, cfg.VocabSize/tp, cfg.HiddenSize); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumLayers; i++ {
		b, err := buildBlock(bc, cfg, tp)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, b)
	}
	if m.norm, err = NewRMSNorm(bc, cfg.HiddenSize, cfg.NormEps); err != nil {
		return nil, err
	}
	if m.lmHead, err = NewLinear(bc, cfg.HiddenSize, cfg.VocabSize/tp, false, 0); err != nil {
		return nil, err
	}
	if cfg.TiedEmbed {
		m.lmHead.weight = m.embed.weight
	}

	if quant != nil {
		for _, nm := range Modules(m) {
			if l, ok := nm.Module.(*Linear); ok {
				l.SetQuantMethod(quant)
			}
		}
	}

	m.shardAxes = collectShardAxes(m)
	return m, nil
}

func buildBlock(bc BuildContext, cfg *config.ModelConfig, tp int) (*Block, error) {
	qkv, err := NewLinear(bc, cfg.HiddenSize, 3*cfg.HiddenSize/tp, false, 0)
	if err != nil {
		return nil, err
	}
	o, err := NewLinear(bc, cfg.HiddenSize/tp, cfg.HiddenSize, false, 1)
	if err != nil {
		return nil, err
	}
	gateUp, err := NewLinear(bc, cfg.HiddenSize, 2*cfg.Intermediate/tp, false, 0)
	if err != nil {
		return nil, err
	}
	down, err := NewLinear(bc, cfg.Intermediate/tp, cfg.HiddenSize, false, 1)
	if err != nil {
		return nil, err
	}
	norm1, err := NewRMSNorm(bc, cfg.HiddenSize, cfg.NormEps)
	if err != nil {
		return nil, err
	}
	norm2, err := NewRMSNorm(bc, cfg.HiddenSize, cfg.NormEps)
	if err != nil {
		return nil, err
	}
	return &Block{
		Attn:  &Attention{QKV: qkv, O: o},
		FFN:   &FFN{GateUp: gateUp, Down: down},
		Norm1: norm1,
		Norm2: norm2,
	}, nil
}

// collectShardAxes records each parameter's tensor-parallel split axis under
// its qualified name. Biases of column-parallel layers split with the output
// dim; row-parallel biases are replicated.
func collectShardAxes(m *Model) map[string]int {
	axes := make(map[string]int)
	for _, nm := range Modules(m) {
		switch t := nm.Module.(type) {
		case *Linear:
			axes[qualify(nm.Name, "weight")] = t.ShardAxis()
			if t.Bias() != nil {
				biasAxis := tensor.ReplicatedAxis
				if t.ShardAxis() == 0 {
					biasAxis = 0
				}
				axes[qualify(nm.Name, "bias")] = biasAxis
			}
		case *Embedding:
			axes[qualify(nm.Name, "weight")] = 0
		case *RMSNorm:
			axes[qualify(nm.Name, "weight")] = tensor.ReplicatedAxis
		}
	}
	return axes
}

// Config returns the model configuration.
func (m *Model) Config() *config.ModelConfig { return m.cfg }

// Parallel returns this rank's parallel configuration.
func (m *Model) Parallel() config.ParallelConfig { return m.par }

// Parameters returns nil; all parameters belong to sub-modules.
func (m *Model) Parameters() []*Parameter { return nil }

// Children returns the top-level sub-modules.
func (m *Model) Children() []NamedModule {
	return []NamedModule{
		{"embed", m.embed},
		{"layers", m.layers},
		{"norm", m.norm},
		{"lm_head", m.lmHead},
	}
}

// ShardAxis returns the tensor-parallel split axis recorded for a qualified
// parameter name, or tensor.ReplicatedAxis when the name is unknown.
func (m *Model) ShardAxis(name string) int {
	if axis, ok := m.shardAxes[name]; ok {
		return axis
	}
	return tensor.ReplicatedAxis
}

// remapFused rewrites a checkpoint parameter name onto its fused target.
// "layers.0.attn.q.weight" becomes "layers.0.attn.qkv.weight" slot 0 of 3.
func remapFused(name string) (target string, index, count int, ok bool) {
	for _, fs := range fusedSlots {
		i := strings.Index(name, fs.source+".")
		if i < 0 || (i > 0 && name[i-1] != '.') {
			continue
		}
		return name[:i] + fs.target + name[i+len(fs.source):], fs.index, fs.count, true
	}
	return "", 0, 0, false
}

// CanonicalName maps a checkpoint-side parameter name onto the qualified
// name of the parameter that stores it, folding fused projections.
func CanonicalName(name string) string {
	if target, _, _, ok := remapFused(name); ok {
		return target
	}
	return name
}

// slotCount returns how many checkpoint tensors feed a qualified parameter.
func slotCount(name string) int {
	for _, fs := range fusedSlots {
		i := strings.Index(name, fs.target+".")
		if i < 0 || (i > 0 && name[i-1] != '.') {
			continue
		}
		return fs.count
	}
	return 1
}

// LoadWeights copies checkpoint tensors into the skeleton's parameters.
// Incoming tensors must be host-resident, already sliced to this rank's
// partition, and named in checkpoint form (separate q/k/v and gate/up, which
// are folded into their fused parameters here). Every parameter must be
// covered; unknown names and shape or dtype mismatches are errors.
func (m *Model) LoadWeights(weights []NamedTensor) error {
	params := make(map[string]*Parameter)
	for _, np := range NamedParameters(m) {
		params[np.Name] = np.Param
	}

	loaded := make(map[*Parameter]map[int]bool)
	mark := func(p *Parameter, slot int) {
		if loaded[p] == nil {
			loaded[p] = make(map[int]bool)
		}
		loaded[p][slot] = true
	}

	for _, w := range weights {
		if w.Tensor == nil {
			return fmt.Errorf("weight %q has no tensor", w.Name)
		}
		if !w.Tensor.IsHost() {
			return fmt.Errorf("weight %q resides on %s, expected host", w.Name, w.Tensor.Device())
		}
		if target, index, count, ok := remapFused(w.Name); ok {
			p, found := params[target]
			if !found {
				return fmt.Errorf("weight %q maps to unknown parameter %q", w.Name, target)
			}
			if err := copyFusedSlot(p, w.Tensor, index, count); err != nil {
				return fmt.Errorf("weight %q: %w", w.Name, err)
			}
			mark(p, index)
			continue
		}
		p, found := params[w.Name]
		if !found {
			return fmt.Errorf("unexpected weight %q", w.Name)
		}
		if err := p.Data().CopyFrom(w.Tensor); err != nil {
			return fmt.Errorf("weight %q: %w", w.Name, err)
		}
		mark(p, 0)
	}

	var missing []string
	for name, p := range params {
		if len(loaded[p]) < slotCount(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%d parameters not covered by checkpoint, first missing %q", len(missing), missing[0])
	}
	return nil
}

// copyFusedSlot writes src into the index-th of count equal row chunks of p.
func copyFusedSlot(p *Parameter, src *tensor.RawTensor, index, count int) error {
	dst := p.Data()
	if !dst.IsHost() {
		return fmt.Errorf("parameter resides on %s during load", dst.Device())
	}
	if dst.DType() != src.DType() {
		return fmt.Errorf("dtype mismatch: %s vs %s", src.DType(), dst.DType())
	}
	shape := dst.Shape()
	if shape[0]%count != 0 {
		return fmt.Errorf("fused dim %d not divisible into %d chunks", shape[0], count)
	}
	want := shape.Clone()
	want[0] /= count
	if !src.Shape().Equal(want) {
		return fmt.Errorf("shape mismatch: got %v, want %v", src.Shape(), want)
	}
	chunk := dst.ByteSize() / count
	copy(dst.Data()[index*chunk:(index+1)*chunk], src.Data())
	return nil
}

// To migrates every parameter to the device. Already-resident parameters are
// left alone, so the call is idempotent; tied parameters move once.
func (m *Model) To(dev device.Device) error {
	seen := make(map[*Parameter]bool)
	for _, np := range NamedParameters(m) {
		if seen[np.Param] {
			continue
		}
		seen[np.Param] = true
		if err := dev.ToDevice(np.Param.Data()); err != nil {
			return fmt.Errorf("move %s to %s: %w", np.Name, dev.Name(), err)
		}
	}
	return nil
}

// Eval switches the model into inference mode.
func (m *Model) Eval() { m.eval = true }

// Training reports whether the model is still in training mode.
func (m *Model) Training() bool { return !m.eval }
