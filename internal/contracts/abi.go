// Package contracts holds the event ABIs of each watched contract family and the log decoder.
package contracts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"daoscope/internal/model"
)

const tokenFactoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "token", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "symbol", "type": "string"},
      {"indexed": false, "internalType": "uint8", "name": "decimals", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "supply", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"}
    ],
    "name": "Create",
    "type": "event"
  }
]`

const daoFactoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "dao", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "token", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"}
    ],
    "name": "DaoCreated",
    "type": "event"
  }
]`

const tokenABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "spender", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Approval",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "OwnershipTransferred",
    "type": "event"
  }
]`

const daoABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "proposer", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "ProposalCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "voter", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "support", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "weight", "type": "uint256"}
    ],
    "name": "VoteCast",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"}
    ],
    "name": "ProposalExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "proposalId", "type": "uint256"}
    ],
    "name": "ProposalCanceled",
    "type": "event"
  }
]`

type parsedABI struct {
	once sync.Once
	abi  abi.ABI
	err  error
	json string
}

func (p *parsedABI) get() (abi.ABI, error) {
	p.once.Do(func() {
		p.abi, p.err = abi.JSON(strings.NewReader(p.json))
	})
	return p.abi, p.err
}

var families = map[model.InterfaceKind]*parsedABI{
	model.KindTokenFactory: {json: tokenFactoryABIJSON},
	model.KindDaoFactory:   {json: daoFactoryABIJSON},
	model.KindToken:        {json: tokenABIJSON},
	model.KindDao:          {json: daoABIJSON},
}

// ABI returns the parsed event ABI of a contract family.
func ABI(kind model.InterfaceKind) (abi.ABI, error) {
	p, ok := families[kind]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no abi for %s", kind)
	}
	return p.get()
}
