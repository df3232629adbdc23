package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CreateRoom inserts a room owned by the user behind ownerEmail
func (p *Postgres) CreateRoom(ctx context.Context, ownerEmail, name, description string) (Room, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO rooms (user_id, name, description)
		SELECT id, $2, $3 FROM users WHERE email = $1
		RETURNING id, user_id, name, description, created_at, updated_at
	`, normEmail(ownerEmail), name, description)

	var r Room
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound // no such user
		}
		return Room{}, err
	}
	return r, nil
}

// ListOwnedRooms returns rooms created by the user, newest first
func (p *Postgres) ListOwnedRooms(ctx context.Context, ownerEmail string) ([]Room, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.id, r.user_id, r.name, r.description, r.created_at, r.updated_at
		FROM rooms r
		JOIN users u ON u.id = r.user_id
		WHERE u.email = $1
		ORDER BY r.id DESC
	`, normEmail(ownerEmail))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListInvitedRooms returns rooms the user has been invited to, newest first
func (p *Postgres) ListInvitedRooms(ctx context.Context, email string) ([]InvitedRoom, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.id, r.user_id, r.name, r.description, r.created_at, r.updated_at, ur.confirmed
		FROM user_rooms ur
		JOIN rooms r ON r.id = ur.room_id
		JOIN users u ON u.id = ur.user_id
		WHERE u.email = $1
		ORDER BY r.id DESC
	`, normEmail(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvitedRoom
	for rows.Next() {
		var r InvitedRoom
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt, &r.Confirmed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoom removes a room; only its creator may do so
func (p *Postgres) DeleteRoom(ctx context.Context, roomID int64, ownerEmail string) error {
	ct, err := p.pool.Exec(ctx, `
		DELETE FROM rooms
		WHERE id = $1 AND user_id = (SELECT id FROM users WHERE email = $2)
	`, roomID, normEmail(ownerEmail))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		if exists, err := p.roomExists(ctx, roomID); err != nil {
			return err
		} else if exists {
			return ErrForbidden
		}
		return ErrNotFound
	}
	p.log.Info("room.deleted", "roomId", roomID)
	return nil
}

// InviteUser adds an unconfirmed invitation for email to a room
func (p *Postgres) InviteUser(ctx context.Context, roomID int64, email string) error {
	ct, err := p.pool.Exec(ctx, `
		INSERT INTO user_rooms (user_id, room_id, confirmed)
		SELECT u.id, r.id, FALSE
		FROM users u, rooms r
		WHERE u.email = $2 AND r.id = $1
		ON CONFLICT (user_id, room_id) DO NOTHING
	`, roomID, normEmail(email))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Either user/room missing or the invitation already exists.
		if exists, err := p.invitationExists(ctx, roomID, email); err != nil {
			return err
		} else if exists {
			return ErrConflict
		}
		return ErrNotFound
	}
	return nil
}

// ConfirmInvitation flips the confirmed flag for the user's invitation
func (p *Postgres) ConfirmInvitation(ctx context.Context, roomID int64, email string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE user_rooms
		SET confirmed = TRUE
		WHERE room_id = $1 AND user_id = (SELECT id FROM users WHERE email = $2)
	`, roomID, normEmail(email))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeInvitation drops the user's invitation (leave the room list)
func (p *Postgres) RevokeInvitation(ctx context.Context, roomID int64, email string) error {
	ct, err := p.pool.Exec(ctx, `
		DELETE FROM user_rooms
		WHERE room_id = $1 AND user_id = (SELECT id FROM users WHERE email = $2)
	`, roomID, normEmail(email))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRoomDetail returns a room with its creator, its invited users (the
// creator listed once) and the latest persisted scene.
func (p *Postgres) GetRoomDetail(ctx context.Context, roomID int64) (RoomDetail, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT r.id, r.user_id, r.name, r.description, r.created_at, r.updated_at,
		       COALESCE(r.elements, 'null'), COALESCE(r.app_state, 'null'),
		       u.id, u.email, u.name, u.avatar_url, u.created_at
		FROM rooms r
		JOIN users u ON u.id = r.user_id
		WHERE r.id = $1
	`, roomID)

	var d RoomDetail
	var elements, appState []byte
	if err := row.Scan(
		&d.ID, &d.OwnerID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt,
		&elements, &appState,
		&d.Owner.ID, &d.Owner.Email, &d.Owner.Name, &d.Owner.AvatarURL, &d.Owner.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoomDetail{}, ErrNotFound
		}
		return RoomDetail{}, err
	}
	d.Scene = Scene{Elements: elements, AppState: appState, UpdatedAt: d.UpdatedAt}

	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.email, u.name, u.avatar_url, u.created_at
		FROM user_rooms ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.room_id = $1
		ORDER BY u.id
	`, roomID)
	if err != nil {
		return RoomDetail{}, err
	}
	defer rows.Close()

	ownerListed := false
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.CreatedAt); err != nil {
			return RoomDetail{}, err
		}
		if u.ID == d.Owner.ID {
			ownerListed = true
		}
		d.Participants = append(d.Participants, u)
	}
	if err := rows.Err(); err != nil {
		return RoomDetail{}, err
	}
	if !ownerListed {
		d.Participants = append(d.Participants, d.Owner)
	}
	return d, nil
}

// SaveScene persists a full scene snapshot; only the room's creator may save
func (p *Postgres) SaveScene(ctx context.Context, roomID int64, ownerEmail string, elements, appState []byte) (Scene, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE rooms
		SET elements = COALESCE($3, elements),
		    app_state = COALESCE($4, app_state),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = (SELECT id FROM users WHERE email = $2)
		RETURNING COALESCE(elements, 'null'), COALESCE(app_state, 'null'), updated_at
	`, roomID, normEmail(ownerEmail), elements, appState)

	var s Scene
	var el, st []byte
	if err := row.Scan(&el, &st, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if exists, err := p.roomExists(ctx, roomID); err != nil {
				return Scene{}, err
			} else if exists {
				return Scene{}, ErrForbidden
			}
			return Scene{}, ErrNotFound
		}
		return Scene{}, err
	}
	s.Elements, s.AppState = el, st
	p.log.Info("scene.saved", "roomId", roomID, "bytes", len(el))
	return s, nil
}

// GetScene returns the latest persisted scene for a room
func (p *Postgres) GetScene(ctx context.Context, roomID int64) (Scene, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT COALESCE(elements, 'null'), COALESCE(app_state, 'null'), updated_at
		FROM rooms
		WHERE id = $1
	`, roomID)

	var s Scene
	var el, st []byte
	if err := row.Scan(&el, &st, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scene{}, ErrNotFound
		}
		return Scene{}, err
	}
	s.Elements, s.AppState = el, st
	return s, nil
}

func (p *Postgres) roomExists(ctx context.Context, roomID int64) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&ok)
	return ok, err
}

func (p *Postgres) invitationExists(ctx context.Context, roomID int64, email string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_rooms ur
			JOIN users u ON u.id = ur.user_id
			WHERE ur.room_id = $1 AND u.email = $2
		)
	`, roomID, normEmail(email)).Scan(&ok)
	return ok, err
}
