package redisx

import "time"

const (
	// Cached order snapshot: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Cached product stock: stock:{product_id} -> product JSON
	KeyStock = "stock:%s"
)

var (
	TTLOrderCache = 30 * time.Second
	TTLStockCache = 5 * time.Minute
)
