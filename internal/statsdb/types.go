package statsdb

import "time"

// User is a peer identity known to the store.
type User struct {
	ID        int64  `db:"id" json:"id"`
	PublicKey string `db:"public_key" json:"publicKey"`
	Username  string `db:"username" json:"username"`
	CreatedAt int64  `db:"created_at" json:"createdAt"` // unix seconds
}

func (u User) CreatedAtTime() time.Time {
	return time.Unix(u.CreatedAt, 0)
}

// DailyStat is the rollup of one user's activity on one calendar date.
type DailyStat struct {
	Date           string  `db:"date" json:"date"` // YYYY-MM-DD
	HoursConnected float64 `db:"hours_connected" json:"hours"`
	TransferRx     int64   `db:"transfer_rx" json:"transfer_rx"`
	TransferTx     int64   `db:"transfer_tx" json:"transfer_tx"`
}

// ReconcileResult is the stored row after a Reconcile call.
type ReconcileResult struct {
	HoursConnected float64 `db:"hours_connected"`
	TransferRx     int64   `db:"transfer_rx"`
	TransferTx     int64   `db:"transfer_tx"`
	CounterResets  int64   `db:"counter_resets"`
	// Rollback is set when this call stored an rx or tx counter lower than
	// the one it replaced, e.g. after the tunnel interface restarted.
	Rollback bool `db:"last_rollback"`
	// Delta is rx+tx bytes added since the previous sample on this date.
	Delta int64 `db:"last_delta"`
}
