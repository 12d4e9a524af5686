// Package models defines the core domain models for Tontine.
//
// # Ownership
//
//   - Group owns its ordered Member list; members have no existence outside
//     their group and are mutated only through the membership service.
//   - Wallet is owned by a User and tracks the available/locked/escrow split
//     of the balance.
//   - LedgerEntry is immutable once created and is never updated or deleted;
//     a wallet's entries, replayed in creation order, reproduce its balance.
//
// # Design Principles
//
//  1. All monetary values use decimal.Decimal, never floats.
//  2. Relationships use ID strings instead of pointers to avoid circular
//     references between aggregates.
//  3. Models carry no persistence logic; the storage layer owns serialization.
package models
