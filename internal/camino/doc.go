// Package camino defines the domain model shared by every pipeline stage:
// routes, towns, stamp locations and the run report types.
package camino
