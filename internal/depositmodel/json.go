package depositmodel

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// entryJSON mirrors Entry with hex/string fields for the canonical JSON
// wire format described in the original specification's external
// interfaces section.
type entryJSON struct {
	ContractID     string `json:"contract_id"`
	TotalDeposited string `json:"total_deposited"`
	LastLedger     uint32 `json:"last_ledger"`
}

// MarshalJSON renders an Entry using the canonical wire schema.
func (e Entry) MarshalJSON() ([]byte, error) {
	amount := e.TotalDeposited
	if amount == nil {
		amount = big.NewInt(0)
	}
	return json.Marshal(entryJSON{
		ContractID:     e.ContractID.Hex(),
		TotalDeposited: amount.String(),
		LastLedger:     e.LastLedger,
	})
}

// UnmarshalJSON parses an Entry from the canonical wire schema.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := ParseContractID(raw.ContractID)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(raw.TotalDeposited, 10)
	if !ok {
		return fmt.Errorf("depositmodel: invalid total_deposited %q", raw.TotalDeposited)
	}
	e.ContractID = id
	e.TotalDeposited = amount
	e.LastLedger = raw.LastLedger
	return nil
}

type mapJSON struct {
	Version       uint64  `json:"version"`
	LastLedgerSeq uint32  `json:"last_ledger_seq"`
	Deposits      []Entry `json:"deposits"`
}

// MarshalJSON renders a Map using the canonical deposit-map schema.
func (m Map) MarshalJSON() ([]byte, error) {
	deposits := m.Deposits
	if deposits == nil {
		deposits = []Entry{}
	}
	return json.Marshal(mapJSON{Version: m.Version, LastLedgerSeq: m.LastLedgerSeq, Deposits: deposits})
}

// UnmarshalJSON parses a Map from the canonical deposit-map schema.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw mapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Version = raw.Version
	m.LastLedgerSeq = raw.LastLedgerSeq
	m.Deposits = raw.Deposits
	return nil
}

type validatorOrgJSON struct {
	Name       string   `json:"name"`
	Validators []string `json:"validators"`
}

type paramsJSON struct {
	NetworkID           string             `json:"network_id"`
	Organizations       []validatorOrgJSON `json:"organizations"`
	QuorumOrgThreshold  int                `json:"quorum_org_threshold"`
	HvymContractAddress string             `json:"hvym_contract_address"`
}

// MarshalJSON renders Params using the canonical parameter schema.
func (p Params) MarshalJSON() ([]byte, error) {
	orgs := make([]validatorOrgJSON, len(p.Organizations))
	for i, org := range p.Organizations {
		validators := make([]string, len(org.Validators))
		for j, v := range org.Validators {
			validators[j] = v.Hex()
		}
		orgs[i] = validatorOrgJSON{Name: org.Name, Validators: validators}
	}
	return json.Marshal(paramsJSON{
		NetworkID:           p.NetworkID.Hex(),
		Organizations:       orgs,
		QuorumOrgThreshold:  p.QuorumOrgThreshold,
		HvymContractAddress: p.HvymContractAddress.Hex(),
	})
}

// UnmarshalJSON parses Params from the canonical parameter schema.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw paramsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	networkID, err := ParseContractID(raw.NetworkID)
	if err != nil {
		return fmt.Errorf("depositmodel: invalid network_id: %w", err)
	}
	hvym, err := ParseContractID(raw.HvymContractAddress)
	if err != nil {
		return fmt.Errorf("depositmodel: invalid hvym_contract_address: %w", err)
	}
	orgs := make([]ValidatorOrg, len(raw.Organizations))
	for i, org := range raw.Organizations {
		validators := make([]ContractID, len(org.Validators))
		for j, v := range org.Validators {
			id, err := ParseContractID(v)
			if err != nil {
				return fmt.Errorf("depositmodel: invalid validator pubkey in org %q: %w", org.Name, err)
			}
			validators[j] = id
		}
		orgs[i] = ValidatorOrg{Name: org.Name, Validators: validators}
	}
	p.NetworkID = networkID
	p.Organizations = orgs
	p.QuorumOrgThreshold = raw.QuorumOrgThreshold
	p.HvymContractAddress = hvym
	return nil
}

type proofJSON struct {
	LedgerSeq      uint32   `json:"ledger_seq"`
	ScpEnvelopes   []string `json:"scp_envelopes"`
	TransactionSet string   `json:"transaction_set"`
	TxResultMetas  []string `json:"tx_result_metas"`
}

// MarshalJSON renders a Proof using the canonical proof wire schema.
func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON(p))
}

// UnmarshalJSON parses a Proof from the canonical proof wire schema.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var raw proofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Proof(raw)
	return nil
}
