// Package storage manages the per-workload loop-mounted filesystem image:
// creation, mounting, online grow, offline shrink, and first-use migration
// of data that predates the image.
package storage
