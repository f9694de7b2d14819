package types

// Defaults applied to ChatRequest fields the client omitted.
const (
	DefaultModel       = "mistral"
	DefaultTemperature = 0.3
)

// ModelID returns the requested model or DefaultModel.
func (r ChatRequest) ModelID() string {
	if r.Model == "" {
		return DefaultModel
	}
	return r.Model
}

// TemperatureOrDefault returns the requested temperature or DefaultTemperature.
func (r ChatRequest) TemperatureOrDefault() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

// Model is a model file discovered on disk (used by the in-process backend).
type Model struct {
	// Stable identifier for the model: the file name without its extension.
	// example: tinyllama
	ID string `json:"id" example:"tinyllama"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama.gguf"`
	// Size of the file in MB.
	// example: 638
	SizeMB int `json:"size_mb" example:"638"`
}
