// Package config 提供 Token 预算引擎的配置管理功能。
//
// 配置加载顺序：默认值、YAML 文件、TOKENBUDGET_* 环境变量，最后运行验证器。
// 合并由 viper 完成，键名统一取 yaml 标签；WriteYAML 输出隐去密钥的生效配置。
package config
