package model

import (
	"fmt"
	"strings"
)

// InterfaceKind names the contract family a watched address belongs to.
type InterfaceKind int

const (
	KindTokenFactory InterfaceKind = iota + 1
	KindDaoFactory
	KindToken
	KindDao
)

func (k InterfaceKind) String() string {
	switch k {
	case KindTokenFactory:
		return "token_factory"
	case KindDaoFactory:
		return "dao_factory"
	case KindToken:
		return "token"
	case KindDao:
		return "dao"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsFactory reports whether events of this family announce child contracts.
func (k InterfaceKind) IsFactory() bool {
	return k == KindTokenFactory || k == KindDaoFactory
}

// ParseInterfaceKind is the inverse of InterfaceKind.String.
func ParseInterfaceKind(s string) (InterfaceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "token_factory":
		return KindTokenFactory, nil
	case "dao_factory":
		return KindDaoFactory, nil
	case "token":
		return KindToken, nil
	case "dao":
		return KindDao, nil
	default:
		return 0, fmt.Errorf("unknown interface kind: %s", s)
	}
}

// WatchTarget identifies one live subscription.
type WatchTarget struct {
	ContractAddress string        `json:"contract_address"`
	Kind            InterfaceKind `json:"-"`
	DisplayName     string        `json:"display_name"`
}

// NewWatchTarget builds a target with a canonical address.
func NewWatchTarget(address string, kind InterfaceKind, displayName string) WatchTarget {
	return WatchTarget{
		ContractAddress: NormalizeAddress(address),
		Kind:            kind,
		DisplayName:     displayName,
	}
}

func (t WatchTarget) String() string {
	if t.DisplayName == "" {
		return fmt.Sprintf("%s:%s", t.Kind, t.ContractAddress)
	}
	return fmt.Sprintf("%s:%s(%s)", t.Kind, t.DisplayName, t.ContractAddress)
}
