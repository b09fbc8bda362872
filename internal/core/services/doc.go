// Package services implements the driving port interfaces.
// Services contain the orchestration logic: the unified index, the backend
// registry, write and search fan-out, reconciliation, integrity anchoring
// and fusion. They call driven ports (backends, stores, anchors) and never
// import adapter packages.
package services
