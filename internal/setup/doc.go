// Package setup resolves the user's settings file, the cache location and
// the install defaults.
//
// It is the only package that consults the environment and the package-level
// logger; everything below the command line receives its configuration
// explicitly.
package setup
