// Package mysql persists the hemisphere configuration in a MySQL table, one
// row per hemisphere, applying the embedded schema migrations on startup.
package mysql
