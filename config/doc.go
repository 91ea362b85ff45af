// Package config 提供编排核心的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 每个组件（连接、工具调用、交接、工作流、调度）各占一个配置段，
// 环境变量键名形如 MANNMEDIA_SCHEDULER_TICK_INTERVAL。
package config
