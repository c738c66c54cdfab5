// Package config loads and watches the noderankd configuration file.
//
// Load(path) reads the YAML file, applies defaults (port 8080, queue
// depth 4, 10m task TTL, 1_000_000 node / 10_000_000 edge limits), then
// validates ranges. Watch(ctx, path, onChange) uses fsnotify to detect
// file changes and calls onChange with the newly parsed Config; it
// handles the rename→create pattern used by atomic-save editors by
// re-adding the watch after each reload.
//
// Only the limits section takes effect on reload; server, engine and
// native settings require a restart.
package config
