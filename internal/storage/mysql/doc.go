// Package mysql persists the command journal. The memory driver appends JSON
// lines to a local file; the mysql driver applies the embedded migrations
// under deploy/migrations and writes to the command_journal table.
package mysql
