package contracts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Instruments []fileSpec `yaml:"instruments"`
}

type fileSpec struct {
	Symbol       string `yaml:"symbol"`
	Class        string `yaml:"class"`
	ContractSize string `yaml:"contract_size"`
	PipSize      string `yaml:"pip_size"`
	MinLot       string `yaml:"min_lot"`
	MaxLot       string `yaml:"max_lot"`
	Status       string `yaml:"status"`
}

// LoadFile reads a yaml contract table:
//
//	instruments:
//	  - symbol: EURUSD
//	    class: forex
//	    contract_size: "100000"
//	    pip_size: "0.0001"
func LoadFile(path string) ([]Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFile(raw)
}

func parseFile(raw []byte) ([]Spec, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse contracts file: %w", err)
	}
	out := make([]Spec, 0, len(f.Instruments))
	for _, fs := range f.Instruments {
		s, err := buildSpec(fs.Symbol, fs.Class, fs.ContractSize, fs.PipSize, fs.MinLot, fs.MaxLot, fs.Status)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
