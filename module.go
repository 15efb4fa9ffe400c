// Package projcal calibrates a projector against a depth camera by watching a chessboard.
package projcal

import "go.viam.com/rdk/resource"

var NamespaceFamily = resource.NewModelFamily("erh", "projcal")
