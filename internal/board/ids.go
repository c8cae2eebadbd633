package board

import (
	"fmt"
	"strconv"
	"strings"
)

const itemIDPrefix = "item-"

// NextItemID issues the next item id for this board. Ids increase strictly
// and the counter travels with the board, so switching boards never reuses
// an id.
func (b *Board) NextItemID() string {
	b.ItemIDCounter++
	return fmt.Sprintf("%s%d", itemIDPrefix, b.ItemIDCounter)
}

// ReconcileCounter raises the counter to the largest issued suffix when a
// stored board carries a counter below it. It never lowers the counter.
// Returns true if the counter changed.
func (b *Board) ReconcileCounter() bool {
	max := b.ItemIDCounter
	for _, it := range b.Items {
		n, ok := itemIDNumber(it.ID)
		if ok && n > max {
			max = n
		}
	}
	if max == b.ItemIDCounter {
		return false
	}
	b.ItemIDCounter = max
	return true
}

func itemIDNumber(id string) (int, bool) {
	if !strings.HasPrefix(id, itemIDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, itemIDPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
