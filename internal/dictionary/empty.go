package dictionary

import (
	"context"
	"time"
)

// EmptyBackend has no entries and discards learning. It is the last link of
// the startup chain.
type EmptyBackend struct{}

// Name implements Backend.
func (EmptyBackend) Name() string { return "empty" }

// Exact implements Backend.
func (EmptyBackend) Exact(context.Context, string, int) ([]string, error) { return nil, nil }

// Prefix implements Backend.
func (EmptyBackend) Prefix(context.Context, string, int) ([]string, error) { return nil, nil }

// Learn implements Backend.
func (EmptyBackend) Learn(context.Context, string, string, time.Time) error { return nil }

// Stats implements Backend.
func (b EmptyBackend) Stats(context.Context) (Stats, error) { return Stats{Backend: b.Name()}, nil }

// Close implements Backend.
func (EmptyBackend) Close() error { return nil }
