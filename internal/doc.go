// Package internal contains the implementation packages for localdev.
//
// # Package Organization
//
//   - specifier: specifier prefixes, owner resolution and the component locator
//   - compiler: the compiler contract and the process-backed compiler
//   - build: the compiled module cache and the static resource builder
//   - labels: CustomLabels loading and locale fallback
//   - services: addressable services and their registry
//   - watcher: fsnotify watchers and the file watch coordinator
//   - websocket: the live reload channel
//   - org, proxy: org connection, API rewrite and Apex proxying
//   - server: the HTTP extension host and its routes
//   - config, project: configuration and sfdx-project.json
//
// # Request Flow
//
// A module request arrives at a route registered from a service mapping. The
// route rebuilds the specifier, the owning service consults its cache and
// compiles on a miss. File changes travel the other way: the coordinator
// invalidates cache entries, rebuilds static resources and tells connected
// pages to reload.
package internal
