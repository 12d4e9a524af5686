package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// CreateGroup persists a new group. ID and CreatedAt are assigned if unset.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups
		 (id, name, purpose, contribution_amount, frequency, max_members, member_count,
		  status, join_code, payout_rule, lock_contributions, creator_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Purpose, group.ContributionAmount.String(),
		string(group.Frequency), group.MaxMembers, group.MemberCount,
		string(group.Status), strings.ToUpper(group.JoinCode), string(group.PayoutRule),
		boolToInt(group.LockContributions), group.CreatorID, group.CreatedAt.Unix(),
	)
	return storeErr(err, "insert group")
}

// GetGroup retrieves a group with its ordered member list.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return s.getGroup(ctx, s.db, "id = ?", id)
}

// GetGroupByJoinCode resolves a group by join code. Codes are stored
// uppercase, so lookup normalizes the same way.
func (s *SQLiteStore) GetGroupByJoinCode(ctx context.Context, code string) (*models.Group, error) {
	return s.getGroup(ctx, s.db, "join_code = ?", strings.ToUpper(strings.TrimSpace(code)))
}

// JoinCodeExists reports whether a join code is already taken.
func (s *SQLiteStore) JoinCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM groups WHERE join_code = ?",
		strings.ToUpper(strings.TrimSpace(code)),
	).Scan(&n)
	if err != nil {
		return false, storeErr(err, "check join code")
	}
	return n > 0, nil
}

// querier lets group reads run against either the pool or an open transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) getGroup(ctx context.Context, q querier, where string, arg any) (*models.Group, error) {
	group := &models.Group{}
	var (
		amount, status, frequency, rule string
		lock                            int
		createdAt                       int64
		filledAt                        sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, purpose, contribution_amount, frequency, max_members,
		        member_count, status, join_code, payout_rule, lock_contributions,
		        creator_id, created_at, filled_at
		 FROM groups WHERE `+where,
		arg,
	).Scan(&group.ID, &group.Name, &group.Purpose, &amount, &frequency,
		&group.MaxMembers, &group.MemberCount, &status, &group.JoinCode, &rule,
		&lock, &group.CreatorID, &createdAt, &filledAt)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.NotFound, "group not found")
	}
	if err != nil {
		return nil, storeErr(err, "get group")
	}

	group.ContributionAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt contribution amount %q: %w", amount, err)
	}
	group.Frequency = models.ContributionFrequency(frequency)
	group.Status = models.GroupStatus(status)
	group.PayoutRule = models.PayoutRule(rule)
	group.LockContributions = lock != 0
	group.CreatedAt = time.Unix(createdAt, 0).UTC()
	if filledAt.Valid {
		t := time.Unix(filledAt.Int64, 0).UTC()
		group.FilledAt = &t
	}

	if group.Members, err = loadMembers(ctx, q, group.ID); err != nil {
		return nil, err
	}
	// member_count is kept redundantly for the atomic admission check; a
	// drift from the actual list means corruption, not a race.
	if len(group.Members) != group.MemberCount {
		return nil, fmt.Errorf("group %s member count %d does not match member list length %d",
			group.ID, group.MemberCount, len(group.Members))
	}
	return group, nil
}

func loadMembers(ctx context.Context, q querier, groupID string) ([]models.Member, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, name, email, joined_at, total_contributed, payout_position
		 FROM group_members WHERE group_id = ? ORDER BY rowid`,
		groupID,
	)
	if err != nil {
		return nil, storeErr(err, "get members")
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var (
			m        models.Member
			joinedAt int64
			total    string
		)
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &joinedAt, &total, &m.PayoutPosition); err != nil {
			return nil, storeErr(err, "scan member")
		}
		m.JoinedAt = time.Unix(joinedAt, 0).UTC()
		if m.TotalContributed, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("corrupt contribution total %q: %w", total, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateGroup applies a patch to a group's mutable fields.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, id string, patch storage.GroupPatch) (*models.Group, error) {
	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *patch.Name)
	}
	if patch.Purpose != nil {
		sets, args = append(sets, "purpose = ?"), append(args, *patch.Purpose)
	}
	if patch.PayoutRule != nil {
		sets, args = append(sets, "payout_rule = ?"), append(args, string(*patch.PayoutRule))
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx,
			"UPDATE groups SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, storeErr(err, "update group")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fault.New(fault.NotFound, "group not found")
		}
	}
	return s.GetGroup(ctx, id)
}

// DeleteGroup removes a group; members go with it via cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return storeErr(err, "delete group")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "group not found")
	}
	return nil
}

// AdmitMember atomically admits a member. The capacity check and the member
// append commit in one transaction. The conditional UPDATE on member_count is
// what keeps two joiners racing for the last slot from both winning: whichever
// transaction runs second sees the incremented count and affects zero rows.
func (s *SQLiteStore) AdmitMember(ctx context.Context, groupID string, member models.Member, finalize func(n int) []int) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err, "begin admission")
	}
	defer tx.Rollback()

	group, err := s.getGroup(ctx, tx, "id = ?", groupID)
	if err != nil {
		return nil, err
	}
	if group.Status == models.GroupFilled {
		return nil, fault.New(fault.GroupFull, "group has no remaining slots")
	}
	if group.Status != models.GroupOpen {
		return nil, fault.New(fault.InvalidState, "group is %s, not accepting members", group.Status)
	}
	if group.HasMember(member.UserID) {
		return nil, fault.New(fault.AlreadyMember, "user is already a member of this group")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE groups SET member_count = member_count + 1
		 WHERE id = ? AND status = ? AND member_count < max_members`,
		groupID, string(models.GroupOpen),
	)
	if err != nil {
		return nil, storeErr(err, "claim slot")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Status was re-read above in this transaction, so the only way the
		// guard fails is capacity.
		return nil, fault.New(fault.GroupFull, "group has no remaining slots")
	}

	newCount := group.MemberCount + 1
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	member.PayoutPosition = newCount // provisional: join order
	if member.TotalContributed.IsZero() {
		member.TotalContributed = decimal.Zero
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_members
		 (group_id, user_id, name, email, joined_at, total_contributed, payout_position)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		groupID, member.UserID, member.Name, member.Email,
		member.JoinedAt.Unix(), member.TotalContributed.String(), member.PayoutPosition,
	)
	if err != nil {
		return nil, storeErr(err, "insert member")
	}

	if newCount == group.MaxMembers {
		filledAt := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE groups SET status = ?, filled_at = ? WHERE id = ?",
			string(models.GroupFilled), filledAt.Unix(), groupID,
		); err != nil {
			return nil, storeErr(err, "mark filled")
		}

		// Sequential groups keep their join-order positions; only the
		// random rule overwrites them, and only at this instant.
		if finalize != nil && group.PayoutRule == models.PayoutRandom {
			ordered := append(group.Members, member)
			positions := finalize(newCount)
			if len(positions) != newCount {
				return nil, fmt.Errorf("finalize returned %d positions for %d members", len(positions), newCount)
			}
			for i, m := range ordered {
				if _, err := tx.ExecContext(ctx,
					"UPDATE group_members SET payout_position = ? WHERE group_id = ? AND user_id = ?",
					positions[i], groupID, m.UserID,
				); err != nil {
					return nil, storeErr(err, "assign payout position")
				}
			}
		}
	}

	updated, err := s.getGroup(ctx, tx, "id = ?", groupID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr(err, "commit admission")
	}
	return updated, nil
}

// SetGroupStatus transitions a group's lifecycle status, validating the
// transition against the current status inside the write transaction.
func (s *SQLiteStore) SetGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err, "begin status change")
	}
	defer tx.Rollback()

	group, err := s.getGroup(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if !group.CanTransition(status) {
		return nil, fault.New(fault.InvalidState, "cannot move group from %s to %s", group.Status, status)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE groups SET status = ? WHERE id = ?", string(status), id,
	); err != nil {
		return nil, storeErr(err, "update status")
	}

	updated, err := s.getGroup(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr(err, "commit status change")
	}
	return updated, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
