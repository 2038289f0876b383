package orders

import "strconv"

const (
	TopicOrderEvents = "canteen.order.events"
	TopicReports     = "canteen.reports"
)

// Partition key = seller_id, so one stall's events keep their order.
func PartitionKey(sellerID int64) []byte { return []byte(strconv.FormatInt(sellerID, 10)) }
