// Package config 负责加载 ChainPilot 的 JSON/YAML 配置并填充默认值。
package config
