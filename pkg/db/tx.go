package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// ContextWithTx binds tx to ctx so nested repository calls join it.
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction bound to ctx or fallback.
func Conn(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := TxFromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

// Transact runs fn inside a transaction. A transaction already bound to ctx is
// joined through a savepoint, so a failing inner unit rolls back alone while
// the outer unit still decides the final commit.
func Transact(ctx context.Context, fallback *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return Conn(ctx, fallback).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTx(ctx, tx), tx)
	})
}
