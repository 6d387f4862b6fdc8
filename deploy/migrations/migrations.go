// Package migrations embeds the MySQL schema for the hemisphere store.
package migrations

import "embed"

// Files 包含按版本号排序执行的 SQL 迁移。
//
//go:embed *.sql
var Files embed.FS
