// Package export turns a rendered certificate into downloadable artifacts.
//
// Rasterization and PDF layout are external collaborators; this package only
// coordinates them, names the results and reports their sizes.
package export
