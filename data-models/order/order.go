package order

import (
	"right-rider/model"
)

type GetActiveOrderInput struct {
	Authorization string `header:"Authorization" doc:"Bearer 乘客 token"`
}

type ActiveOrderResponse struct {
	Body *model.ActiveOrderResponse
}

type CreateOrderInput struct {
	Authorization string `header:"Authorization" doc:"Bearer 乘客 token"`
	Body          struct {
		PickupAddress      string `json:"pickup_address" minLength:"1" example:"Papeete Marina" doc:"上車地點"`
		DestinationAddress string `json:"destination_address" minLength:"1" example:"Faa'a Airport" doc:"目的地"`
	}
}

type OrderResponse struct {
	Body *model.Order
}

type AssignDriverInput struct {
	OrderID string `path:"orderID" doc:"訂單ID"`
	Body    struct {
		DriverID   string `json:"driver_id" minLength:"1" example:"d1" doc:"司機ID"`
		DriverName string `json:"driver_name" minLength:"1" example:"Moana" doc:"司機姓名"`
	}
}

type UpdateStatusInput struct {
	OrderID string `path:"orderID" doc:"訂單ID"`
	Body    struct {
		Status model.OrderStatus `json:"status" example:"driver_arrived" doc:"新的訂單狀態"`
	}
}

type CancelOrderInput struct {
	Authorization string `header:"Authorization" doc:"Bearer 乘客 token"`
	OrderID       string `path:"orderID" doc:"訂單ID"`
}

type SimpleResponseData struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"訂單已取消"`
}

type SimpleResponse struct {
	Body SimpleResponseData
}

type IssueRiderTokenInput struct {
	Body struct {
		RiderID string `json:"rider_id,omitempty" example:"rider-001" doc:"乘客ID，省略時自動產生"`
	}
}

type RiderTokenResponse struct {
	Body struct {
		RiderID string `json:"rider_id" doc:"乘客ID"`
		Token   string `json:"token" doc:"乘客 token"`
	}
}
