package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
)

type FolderRepo struct {
	db *sql.DB
}

func NewFolderRepo(db *sql.DB) *FolderRepo {
	return &FolderRepo{db: db}
}

func (r *FolderRepo) GetByID(ctx context.Context, userID, id string) (*model.Folder, error) {
	where := map[string]interface{}{
		"id":      id,
		"user_id": userID,
	}
	sqlStr, args, err := dbutil.Select("folders", where, []string{"id", "user_id", "name", "ctime"})
	if err != nil {
		return nil, err
	}
	var item model.Folder
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&item.ID, &item.UserID, &item.Name, &item.Ctime); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}
