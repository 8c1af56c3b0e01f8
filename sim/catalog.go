package sim

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultCatalogYAML []byte

// GPUType names a GPU model in the hardware table (e.g. "A100").
type GPUType string

// GPUSpec describes one GPU model.
type GPUSpec struct {
	Label           string  `yaml:"label" json:"label"`
	VRAMGB          float64 `yaml:"vram_gb" json:"vramGb"`                     // per GPU
	PerfFactor      float64 `yaml:"perf_factor" json:"perfFactor"`             // relative compute multiplier (A100 = 1.0)
	MemBandwidthGBs float64 `yaml:"mem_bandwidth_gbs" json:"memBandwidthGbs"` // HBM bandwidth
}

// ModelConfig is an immutable catalog entry for a servable model.
type ModelConfig struct {
	ID              string  `yaml:"id" json:"id"`
	Name            string  `yaml:"name" json:"name"`
	ParamSize       string  `yaml:"param_size" json:"paramSize"`
	VRAMRequiredGB  float64 `yaml:"vram_required_gb" json:"vramRequiredGb"`
	TPSize          int     `yaml:"tp_size" json:"tpSize"` // 1 = fits on one node, >1 = sharded across that many nodes
	TokensPerSec    float64 `yaml:"tokens_per_sec" json:"tokensPerSec"`
	CostPer1kTokens float64 `yaml:"cost_per_1k_tokens" json:"costPer1kTokens"`
	Description     string  `yaml:"description" json:"description"`
}

// Sharded reports whether the model must be split across several nodes.
func (m ModelConfig) Sharded() bool {
	return m.TPSize > 1
}

// WeightsPerNodeGB is the weight footprint one hosting node carries.
func (m ModelConfig) WeightsPerNodeGB() float64 {
	return m.VRAMRequiredGB / float64(max(m.TPSize, 1))
}

// NetworkSpeed selects a network fabric.
type NetworkSpeed string

const (
	NetworkEth10G  NetworkSpeed = "ETH_10G"
	NetworkEth100G NetworkSpeed = "ETH_100G"
	NetworkIB400G  NetworkSpeed = "IB_400G"
)

// NetworkFabric is the capacity entry for one network speed.
type NetworkFabric struct {
	Name         string  `yaml:"name" json:"name"`
	Label        string  `yaml:"label" json:"label"`
	BandwidthGBs float64 `yaml:"bandwidth_gbs" json:"bandwidthGbs"`
	Latency      float64 `yaml:"latency" json:"latency"` // relative latency factor, 1 = best
}

// Upper bounds on operator-supplied sizes. The runner allocates users and
// nodes eagerly, so every control and hardware path enforces them.
const (
	MaxTargetUsers = 200
	MaxWorkers     = 64
	MaxGPUsPerNode = 8
)

// NodeGroupSpec describes a homogeneous group of worker nodes.
type NodeGroupSpec struct {
	Count       int     `yaml:"count" json:"count"`
	GPUType     GPUType `yaml:"gpu_type" json:"gpuType"`
	GPUsPerNode int     `yaml:"gpus_per_node" json:"gpusPerNode"`
}

// HardwareTemplate is a named, possibly heterogeneous, cluster layout.
type HardwareTemplate struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Specs       []NodeGroupSpec `yaml:"specs" json:"specs"`
}

// Prompt is one entry of the synthetic prompt corpus.
type Prompt struct {
	Text   string `yaml:"text" json:"text"`
	Tokens int    `yaml:"tokens" json:"tokens"`
}

// Catalog holds all static lookup data the engine consumes.
// A Catalog is read-only once validated and may be shared freely.
type Catalog struct {
	Models      []ModelConfig                  `yaml:"models"`
	GPUs        map[GPUType]GPUSpec            `yaml:"gpus"`
	Networks    map[NetworkSpeed]NetworkFabric `yaml:"networks"`
	Templates   []HardwareTemplate             `yaml:"templates"`
	UserNames   []string                       `yaml:"user_names"`
	UserAvatars []string                       `yaml:"user_avatars"`
	Prompts     []Prompt                       `yaml:"prompts"`

	modelIndex map[string]int
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
})

// DefaultCatalog returns the embedded catalog. Panics if the embedded
// document is invalid, which can only happen through a broken build.
func DefaultCatalog() *Catalog {
	cat, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return cat
}

// LoadCatalog reads and validates a catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates data against the catalog schema, decodes it with
// strict field checking and resolves all cross references.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := validateCatalogSchema(raw); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	var cat Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cat); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks referential integrity and builds the model index.
// It must be called on hand-built catalogs before use.
func (c *Catalog) Validate() error {
	var errs []error
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("catalog has no models"))
	}
	index := make(map[string]int, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("model %d has an empty id", i))
			continue
		}
		if _, dup := index[m.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate model id %q", m.ID))
		}
		index[m.ID] = i
		if m.TPSize < 1 {
			errs = append(errs, fmt.Errorf("model %q: tp_size must be >= 1, got %d", m.ID, m.TPSize))
		}
		if m.TokensPerSec <= 0 {
			errs = append(errs, fmt.Errorf("model %q: tokens_per_sec must be positive, got %v", m.ID, m.TokensPerSec))
		}
		if m.VRAMRequiredGB < 0 || m.CostPer1kTokens < 0 {
			errs = append(errs, fmt.Errorf("model %q: vram and cost must be non-negative", m.ID))
		}
	}
	for t, g := range c.GPUs {
		if g.VRAMGB <= 0 || g.PerfFactor <= 0 {
			errs = append(errs, fmt.Errorf("gpu %q: vram_gb and perf_factor must be positive", t))
		}
	}
	for _, speed := range []NetworkSpeed{NetworkEth10G, NetworkEth100G, NetworkIB400G} {
		fabric, ok := c.Networks[speed]
		if !ok {
			errs = append(errs, fmt.Errorf("network %q missing", speed))
			continue
		}
		if fabric.BandwidthGBs <= 0 || fabric.Latency <= 0 {
			errs = append(errs, fmt.Errorf("network %q: bandwidth and latency must be positive", speed))
		}
	}
	for _, tpl := range c.Templates {
		if len(tpl.Specs) == 0 {
			errs = append(errs, fmt.Errorf("template %q has no node groups", tpl.ID))
		}
		if err := c.validateSpecs(tpl.Specs); err != nil {
			errs = append(errs, fmt.Errorf("template %q: %w", tpl.ID, err))
		}
	}
	if len(c.UserNames) == 0 || len(c.UserAvatars) == 0 {
		errs = append(errs, errors.New("user name and avatar corpora must be non-empty"))
	}
	if len(c.Prompts) == 0 {
		errs = append(errs, errors.New("prompt corpus must be non-empty"))
	}
	for i, p := range c.Prompts {
		if p.Tokens <= 0 {
			errs = append(errs, fmt.Errorf("prompt %d: tokens must be positive", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	c.modelIndex = index
	return nil
}

func (c *Catalog) validateGroup(spec NodeGroupSpec) error {
	if _, ok := c.GPUs[spec.GPUType]; !ok {
		return fmt.Errorf("unknown gpu type %q", spec.GPUType)
	}
	if spec.Count < 1 || spec.GPUsPerNode < 1 {
		return fmt.Errorf("node group %s: count and gpus_per_node must be >= 1", spec.GPUType)
	}
	if spec.Count > MaxWorkers {
		return fmt.Errorf("node group %s: count must be <= %d, got %d", spec.GPUType, MaxWorkers, spec.Count)
	}
	if spec.GPUsPerNode > MaxGPUsPerNode {
		return fmt.Errorf("node group %s: gpus_per_node must be <= %d, got %d", spec.GPUType, MaxGPUsPerNode, spec.GPUsPerNode)
	}
	return nil
}

// validateSpecs checks every group and the worker total across groups.
func (c *Catalog) validateSpecs(specs []NodeGroupSpec) error {
	total := 0
	for _, spec := range specs {
		if err := c.validateGroup(spec); err != nil {
			return err
		}
		total += spec.Count
	}
	if total > MaxWorkers {
		return fmt.Errorf("cluster has %d workers, at most %d allowed", total, MaxWorkers)
	}
	return nil
}

// Model looks up a model by id.
func (c *Catalog) Model(id string) (ModelConfig, bool) {
	i, ok := c.modelIndex[id]
	if !ok {
		return ModelConfig{}, false
	}
	return c.Models[i], true
}

// mustModel is used inside the tick where ids were validated on entry.
func (c *Catalog) mustModel(id string) ModelConfig {
	m, ok := c.Model(id)
	if !ok {
		panic(fmt.Sprintf("model %q not in catalog", id))
	}
	return m
}

// Network looks up a network fabric.
func (c *Catalog) Network(speed NetworkSpeed) (NetworkFabric, error) {
	fabric, ok := c.Networks[speed]
	if !ok {
		return NetworkFabric{}, fmt.Errorf("unknown network speed %q", speed)
	}
	return fabric, nil
}

// Template looks up a hardware template by id.
func (c *Catalog) Template(id string) (HardwareTemplate, error) {
	for _, tpl := range c.Templates {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	available := make([]string, 0, len(c.Templates))
	for _, tpl := range c.Templates {
		available = append(available, tpl.ID)
	}
	sort.Strings(available)
	return HardwareTemplate{}, fmt.Errorf("template %q not found (available: %v)", id, available)
}

// ValidateModelIDs checks that ids is non-empty and every id resolves.
func (c *Catalog) ValidateModelIDs(ids []string) error {
	if len(ids) == 0 {
		return errors.New("at least one model must be active")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.Model(id); !ok {
			return fmt.Errorf("unknown model %q", id)
		}
		if seen[id] {
			return fmt.Errorf("model %q listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ModelIDs returns catalog model ids in catalog order.
func (c *Catalog) ModelIDs() []string {
	ids := make([]string, len(c.Models))
	for i, m := range c.Models {
		ids[i] = m.ID
	}
	return ids
}

// toJSONValue converts a decoded YAML tree into the value shape the schema
// validator expects (json numbers, string-keyed maps).
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
