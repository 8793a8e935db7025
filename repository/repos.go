package repository

import (
	"github.com/stablefolio/cctp-coordinator/db"
	"github.com/stablefolio/cctp-coordinator/entity"
	"github.com/stablefolio/cctp-coordinator/repository/postgres"
)

type Repo struct {
	Transfers entity.TransfersRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		Transfers: postgres.NewTransfersRepo("transfers", db),
	}
}
