package model

// ModelInfo describes one upstream AI model.
type ModelInfo struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Cost        int    `yaml:"cost" json:"cost"`
	Limit       int    `yaml:"limit" json:"limit"`
}
