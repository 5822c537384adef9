package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/paisabook/backend/internal/models"
	"github.com/paisabook/backend/internal/phone"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestIdentityService_ResolveAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	whitelist := map[string]string{"919161293962": "Asha"}
	service := NewIdentityService(db, whitelist)

	t.Run("first login bootstraps admin and ledger", func(t *testing.T) {
		mock.ExpectQuery("SELECT admin_name FROM admins WHERE admin_id = \\$1").
			WithArgs("admin_919161293962").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO admins").
			WithArgs("admin_919161293962", "Asha", "919161293962").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledgers").
			WithArgs("ledger_919161293962", "admin_919161293962").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		session, err := service.Resolve(context.Background(), "+91 9161293962")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		assert.Equal(t, models.RoleAdmin, session.Role)
		assert.Equal(t, "admin_919161293962", session.AdminID)
		assert.Equal(t, "ledger_919161293962", session.LedgerID)
		assert.Equal(t, "Asha", session.AdminName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second login reuses stored admin without writes", func(t *testing.T) {
		mock.ExpectQuery("SELECT admin_name FROM admins WHERE admin_id = \\$1").
			WithArgs("admin_919161293962").
			WillReturnRows(sqlmock.NewRows([]string{"admin_name"}).AddRow("Asha Original"))

		session, err := service.Resolve(context.Background(), "919161293962")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		// The stored name wins over the whitelist name.
		assert.Equal(t, "Asha Original", session.AdminName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same normalized phone resolves the same ids regardless of formatting", func(t *testing.T) {
		for _, raw := range []string{"+91 9161293962", "91-9161-293-962", "919161293962"} {
			mock.ExpectQuery("SELECT admin_name FROM admins WHERE admin_id = \\$1").
				WithArgs("admin_919161293962").
				WillReturnRows(sqlmock.NewRows([]string{"admin_name"}).AddRow("Asha"))

			session, err := service.Resolve(context.Background(), raw)
			assert.NoError(t, err)
			assert.Equal(t, "admin_919161293962", session.AdminID)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid phone", func(t *testing.T) {
		_, err := service.Resolve(context.Background(), "12345")
		assert.ErrorIs(t, err, phone.ErrInvalidPhone)
	})
}

func TestIdentityService_ResolveRecipient(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIdentityService(db, map[string]string{})

	t.Run("joined recipient via phone mapping", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("918800112233").
			WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "ledger_id", "recipient_name"}).
				AddRow("rcpt_1", "ledger_a", "Ravi"))
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status"}).
				AddRow("ledger_a", "Ravi", models.RecipientStatusJoined))

		session, err := service.Resolve(context.Background(), "91 8800 112 233")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		assert.Equal(t, models.RoleCoworker, session.Role)
		assert.Equal(t, "rcpt_1", session.RecipientID)
		assert.Equal(t, "ledger_a", session.LedgerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first login marks invited recipient joined", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("918800112233").
			WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "ledger_id", "recipient_name"}).
				AddRow("rcpt_1", "ledger_a", "Ravi"))
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status"}).
				AddRow("ledger_a", "Ravi", models.RecipientStatusInvited))
		mock.ExpectExec("UPDATE recipients").
			WithArgs(models.RecipientStatusJoined, sqlmock.AnyArg(), "rcpt_1", models.RecipientStatusInvited).
			WillReturnResult(sqlmock.NewResult(0, 1))

		session, err := service.Resolve(context.Background(), "918800112233")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing mapping self-heals from recipients scan", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("918800112233").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM recipients").
			WithArgs("918800112233", models.RecipientStatusDeleting).
			WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "ledger_id", "recipient_name"}).
				AddRow("rcpt_1", "ledger_a", "Ravi"))
		mock.ExpectExec("INSERT INTO phone_mappings").
			WithArgs("918800112233", "rcpt_1", "ledger_a", "Ravi").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status"}).
				AddRow("ledger_a", "Ravi", models.RecipientStatusJoined))

		session, err := service.Resolve(context.Background(), "918800112233")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		assert.Equal(t, "rcpt_1", session.RecipientID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unregistered phone resolves to no session", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("910000000000").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM recipients").
			WithArgs("910000000000", models.RecipientStatusDeleting).
			WillReturnError(sql.ErrNoRows)

		session, err := service.Resolve(context.Background(), "910000000000")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ledger disagreement fails closed", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("918800112233").
			WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "ledger_id", "recipient_name"}).
				AddRow("rcpt_1", "ledger_a", "Ravi"))
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status"}).
				AddRow("ledger_b", "Ravi", models.RecipientStatusJoined))

		session, err := service.Resolve(context.Background(), "918800112233")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recipient mid-cascade resolves to no session", func(t *testing.T) {
		mock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("918800112233").
			WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "ledger_id", "recipient_name"}).
				AddRow("rcpt_1", "ledger_a", "Ravi"))
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status"}).
				AddRow("ledger_a", "Ravi", models.RecipientStatusDeleting))

		session, err := service.Resolve(context.Background(), "918800112233")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIdentityService_ResolveAccessCode(t *testing.T) {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIdentityService(db, map[string]string{})

	hash, err := hashAccessCode("48215930")
	assert.NoError(t, err)

	t.Run("first use joins the recipient", func(t *testing.T) {
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Meera", models.RecipientStatusInvited, hash))
		mock.ExpectExec("UPDATE recipients").
			WithArgs(models.RecipientStatusJoined, sqlmock.AnyArg(), "rcpt_1", models.RecipientStatusInvited).
			WillReturnResult(sqlmock.NewResult(0, 1))

		session, err := service.ResolveAccessCode(context.Background(), "rcpt_1", "48215930")
		assert.NoError(t, err)
		assert.NotNil(t, session)
		assert.Equal(t, models.RoleCoworker, session.Role)
		assert.Equal(t, "rcpt_1", session.RecipientID)
		assert.Equal(t, "ledger_a", session.LedgerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong code resolves to no session", func(t *testing.T) {
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Meera", models.RecipientStatusJoined, hash))

		session, err := service.ResolveAccessCode(context.Background(), "rcpt_1", "00000000")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("phone-bound recipient has no code to verify", func(t *testing.T) {
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_2").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Ravi", models.RecipientStatusJoined, nil))

		session, err := service.ResolveAccessCode(context.Background(), "rcpt_2", "48215930")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recipient mid-cascade resolves to no session", func(t *testing.T) {
		mock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Meera", models.RecipientStatusDeleting, hash))

		session, err := service.ResolveAccessCode(context.Background(), "rcpt_1", "48215930")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
