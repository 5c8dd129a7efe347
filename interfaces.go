package main

import (
	"context"

	"github.com/AllenNeuralDynamics/voxel-client/internal/catalog"
	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
)

// CatalogAPI is the subset of *catalog.Catalog used by App. Defining it
// here lets App be tested with a fake catalog instead of a live rig.
type CatalogAPI interface {
	Initialize(ctx context.Context) error
	Devices() *reactive.Cell[[]string]
	Device(id string) *catalog.Device
	SetProperty(device, name string, value any) error
	SetProperties(device string, properties map[string]any) error
	ExecuteCommand(device, command string, args []any, opts catalog.CommandOptions) error
}
