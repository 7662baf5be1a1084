package interfaces

import "right-rider/model"

// Navigator 畫面導航
type Navigator interface {
	Navigate(route model.Route)
}
