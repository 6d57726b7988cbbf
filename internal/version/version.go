// Package version 保存构建期注入的版本元数据。
package version

import (
	"fmt"
	"runtime"
)

// 以下变量可在构建时通过 -ldflags "-X" 注入。
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

// Full 返回 CLI 打印用的版本串，包含提交、构建日期与 Go 运行时。
func Full() string {
	return fmt.Sprintf("tribu-cache %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}

// Short 返回日志字段使用的精简版本号。
func Short() string {
	return Version + "+" + Commit
}
