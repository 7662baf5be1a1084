package infra

import "fmt"

// ExchangeName 定義 RabbitMQ exchange 名稱的枚舉類型
type ExchangeName string

const (
	// ExchangeOrderEvents 訂單事件 topic exchange
	ExchangeOrderEvents ExchangeName = "order_events"
)

// String 實現 Stringer 接口，返回 exchange 名稱字符串
func (en ExchangeName) String() string {
	return string(en)
}

// DriverAssignedRoutingKey 司機指派事件的 routing key
func DriverAssignedRoutingKey(orderID string) string {
	return fmt.Sprintf("order.%s.driver_assigned", orderID)
}

// DriverAssignedChannel 司機指派事件的 Redis pub/sub 頻道
func DriverAssignedChannel(orderID string) string {
	return fmt.Sprintf("order_assigned:%s", orderID)
}
