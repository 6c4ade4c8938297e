package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadBatchesGroupsBySupplier(t *testing.T) {
	input := `supplier,category,country,percent
acme,,,5
acme,fasteners,DE,12.5
globex,paper,,3
`
	batches, err := readBatches(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Len(t, batches["acme"], 2)
	require.Equal(t, "fasteners", batches["acme"][1].Category)
	require.Equal(t, "12.5", batches["acme"][1].Percent.String())
	require.Equal(t, "paper", batches["globex"][0].Category)
}

func TestReadBatchesRejectsBadPercent(t *testing.T) {
	_, err := readBatches(strings.NewReader("acme,tools,US,ten\n"))
	require.Error(t, err)
}
