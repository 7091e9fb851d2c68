package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// Subaddress indices 0 and 1 are assigned at account creation; further
// indices are assigned on demand. Change always pays to ChangeSubaddress
// so received change is immediately matched during sync.
const (
	MainSubaddress   uint64 = 0
	ChangeSubaddress uint64 = 1
)

// Account is a single wallet account tracked by obscurawallet.
type Account struct {
	AccountID           string
	Name                string
	AccountKeyBytes     []byte // serialized obx.AccountKey
	NextSubaddressIndex int64  // indices below this are assigned
	NextBlock           int64  // next ledger block to sync for this account
}

func NewAccount(key obx.AccountKey, name string, nextBlock int64) Account {
	return Account{
		AccountID:           key.AccountID(),
		Name:                name,
		AccountKeyBytes:     key.Bytes(),
		NextSubaddressIndex: int64(ChangeSubaddress) + 1,
		NextBlock:           nextBlock,
	}
}

func (a Account) Key() (obx.AccountKey, error) {
	return obx.AccountKeyFromBytes(a.AccountKeyBytes)
}

// AssignedSubaddresses lists the subaddress indices currently assigned
// to this account. Outputs paying an unassigned subaddress scan as
// orphaned until the index is assigned.
func (a Account) AssignedSubaddresses() []uint64 {
	indices := make([]uint64, 0, a.NextSubaddressIndex)
	for i := int64(0); i < a.NextSubaddressIndex; i++ {
		indices = append(indices, uint64(i))
	}
	return indices
}

func (a Account) MainAddress() (string, error) {
	key, err := a.Key()
	if err != nil {
		return "", err
	}
	return key.Subaddress(MainSubaddress).B58(), nil
}

// GetPublicInfo gets those parts of the Account that are safe
// to expose to the outside world (i.e. NOT private keys)
func (a Account) GetPublicInfo() AccountPublic {
	addr, _ := a.MainAddress()
	return AccountPublic{
		AccountID:   a.AccountID,
		Name:        a.Name,
		MainAddress: addr,
		NextBlock:   a.NextBlock,
	}
}

type AccountPublic struct {
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	MainAddress string `json:"main_address"`
	NextBlock   int64  `json:"next_block"`
}
