// Package types provides the core data model shared by every backend.
//
// It defines the normalized Metadata of a 5D (X, Y, Z, C, T) image, pixel
// types, region selection, dense pixel arrays, format detection and the
// error kinds returned across the library.
package types
