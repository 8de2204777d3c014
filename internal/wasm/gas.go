package wasm

import (
	"fmt"
	"sort"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// GasTable maps cost classes to their charge. Every class the generator can
// meter must be present; a missing class fails generation rather than
// producing an unmetered instruction.
type GasTable map[graph.GasClass]int64

// DefaultGasTable returns the standard cost schedule.
func DefaultGasTable() GasTable {
	return GasTable{
		graph.GasEntry:         0,
		graph.GasReturn:        0,
		graph.GasConst:         1,
		graph.GasAdd:           3,
		graph.GasSubtract:      3,
		graph.GasMultiply:      5,
		graph.GasDivide:        5,
		graph.GasAnd:           5,
		graph.GasOr:            5,
		graph.GasNot:           3,
		graph.GasCompare:       3,
		graph.GasBranch:        10,
		graph.GasLoopIteration: 10,
		graph.GasStorageRead:   100,
		graph.GasStorageWrite:  200,
		graph.GasEmitEvent:     50,
		graph.GasHostCallBase:  40,
		graph.GasHostCallByte:  1,
	}
}

// Validate checks the table for totality over the default classes and
// rejects negative charges.
func (t GasTable) Validate() error {
	missing := make([]string, 0)
	for class := range DefaultGasTable() {
		if _, ok := t[class]; !ok {
			missing = append(missing, string(class))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("gas table missing classes: %v", missing)
	}
	for class, cost := range t {
		if cost < 0 {
			return fmt.Errorf("gas class %s has negative cost %d", class, cost)
		}
	}
	return nil
}
