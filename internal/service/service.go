package service

import (
	"context"

	"appmarket/internal/domain"
	"appmarket/internal/repository"
)

// Store - транзакционный доступ к реляционному хранилищу
type Store interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	Queries() repository.Tx
}

// ObjectMover перемещает объект между зонами, см. storage.Mover
type ObjectMover interface {
	Move(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error
}
