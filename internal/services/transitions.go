package services

import dbm "payledger/internal/models/db_models"

var transactionTransitions = map[dbm.TransactionStatus][]dbm.TransactionStatus{
	dbm.TxnStatusPending:   {dbm.TxnStatusCompleted, dbm.TxnStatusFailed, dbm.TxnStatusCancelled},
	dbm.TxnStatusCompleted: {dbm.TxnStatusRefunded},
	dbm.TxnStatusFailed:    {},
	dbm.TxnStatusRefunded:  {},
	dbm.TxnStatusCancelled: {},
}

var orderTransitions = map[dbm.OrderStatus][]dbm.OrderStatus{
	dbm.OrderStatusPending:    {dbm.OrderStatusProcessing, dbm.OrderStatusCancelled},
	dbm.OrderStatusProcessing: {dbm.OrderStatusShipped, dbm.OrderStatusCancelled, dbm.OrderStatusRefunded},
	dbm.OrderStatusShipped:    {dbm.OrderStatusDelivered, dbm.OrderStatusRefunded},
	dbm.OrderStatusDelivered:  {dbm.OrderStatusRefunded},
	dbm.OrderStatusCancelled:  {},
	dbm.OrderStatusRefunded:   {},
}

// CanTransitionTransaction reports whether a transaction may move from one
// status to another. Refunded can only be reached from completed, and the
// refunded/cancelled exits are final.
func CanTransitionTransaction(from, to dbm.TransactionStatus) bool {
	for _, s := range transactionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionOrder(from, to dbm.OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
