package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const includeKey = "include"

// Load 按 include 深度优先顺序合并配置文件（后加载的覆盖先加载的），填充默认值并校验。
func Load(path string) (*Config, error) {
	layers, err := expandIncludes(path)
	if err != nil {
		return nil, err
	}
	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, layer := range layers {
		if err := merged.MergeConfigMap(layer.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", layer.path, err)
		}
	}
	return decode(merged)
}

// Default 返回全部取默认值的配置，供测试与无配置文件的 CLI 使用。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(make(keySet))
	return &cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// explicitKeys 记录文件里显式出现过的键（含其父路径），默认值不会覆盖这些键，哪怕值为零。
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, key := range v.AllKeys() {
		parts := strings.Split(key, ".")
		for i := range parts {
			keys.mark(strings.Join(parts[:i+1], "."))
		}
	}
	return keys
}

type configLayer struct {
	path     string
	settings map[string]any
}

// includeWalker 展开 include 链：被引用文件排在引用者之前，重复引用只加载一次。
type includeWalker struct {
	loaded   map[string]bool
	visiting map[string]bool
	layers   []configLayer
}

func expandIncludes(path string) ([]configLayer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{loaded: make(map[string]bool), visiting: make(map[string]bool)}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.layers, nil
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	if w.visiting[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.loaded[path] {
		return nil
	}
	w.visiting[path] = true
	defer delete(w.visiting, path)

	settings, err := readSettings(path)
	if err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(settings[includeKey])
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	delete(settings, includeKey)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.loaded[path] = true
	w.layers = append(w.layers, configLayer{path: path, settings: settings})
	return nil
}

func readSettings(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func includeList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	if _, ok := raw.(string); ok {
		return nil, fmt.Errorf("include must be a string array")
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}
