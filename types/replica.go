package types

import (
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Address identifies a replica. Key material and signature schemes live
// behind the injected verification capability, so an address is all the core
// carries.
type Address = tmbytes.HexBytes

// Replica is one consensus participant.
type Replica struct {
	Address Address `json:"address"`
	Index   int32   `json:"index"`
}

func (r *Replica) Copy() *Replica {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (r *Replica) ValidateBasic() error {
	if len(r.Address) == 0 {
		return errors.New("replica has empty address")
	}
	if r.Index < 0 {
		return fmt.Errorf("replica has negative index %d", r.Index)
	}
	return nil
}

func (r *Replica) String() string {
	return fmt.Sprintf("Replica{%v #%d}", r.Address, r.Index)
}
