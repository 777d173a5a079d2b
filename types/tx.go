package types

import (
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

const (
	// TxKeySize is the fixed length array size used as the key in lookup maps.
	TxKeySize = tmhash.Size
)

// TxKey is the fixed length array hash used as the key in maps.
type TxKey [TxKeySize]byte

// Tx is an opaque transaction payload plus its submission timestamp.
// A Tx is immutable once submitted.
type Tx struct {
	Payload    tmbytes.HexBytes `json:"payload"`
	SubmitTime time.Time        `json:"submit_time"`
}

func NewTx(payload []byte) *Tx {
	return &Tx{
		Payload:    payload,
		SubmitTime: time.Now(),
	}
}

func (tx *Tx) Hash() []byte {
	return tmhash.Sum(tx.Payload)
}

// Key returns the map key identifying the transaction.
func (tx *Tx) Key() TxKey {
	var key TxKey
	copy(key[:], tmhash.Sum(tx.Payload))
	return key
}

func (tx *Tx) Size() int64 {
	return int64(len(tx.Payload))
}

// ===== tx array =====

type Txs []*Tx

// Hash returns the merkle root over the transaction hashes.
func (txs Txs) Hash() []byte {
	txBzs := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		txBzs[i] = txs[i].Hash()
	}
	return merkle.HashFromByteSlices(txBzs)
}

func (txs Txs) TotalBytes() int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Size()
	}
	return total
}
