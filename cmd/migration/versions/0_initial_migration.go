package versions

import (
	"log"

	"gorm.io/gorm"
)

func dropIndexes(model interface{}, txn *gorm.DB, indexes ...string) error {
	for _, idx := range indexes {
		if err := txn.Migrator().DropIndex(model, idx); err != nil {
			return err
		}
	}
	return nil
}

func migrateTag(txn *gorm.DB) error {
	log.Println("migrating table 'tags'")

	type Tag struct {
		Count int `gorm:"not null;default:0"`
	}

	if err := txn.Migrator().AddColumn(&Tag{}, "Count"); err != nil {
		return err
	}

	// Backfill reference counts from existing join rows.
	err := txn.Exec(`UPDATE tags SET count = (SELECT COUNT(*) FROM patch_tags WHERE patch_tags.tag_id = tags.id)`).Error
	if err != nil {
		return err
	}

	if err := dropIndexes(&Tag{}, txn, "tag_alias_index"); err != nil {
		return err
	}

	log.Println("table 'tags' migration complete")

	return nil
}

func migrateCompany(txn *gorm.DB) error {
	log.Println("migrating table 'companies'")

	type Company struct {
		Count int `gorm:"not null;default:0"`
	}

	if err := txn.Migrator().AddColumn(&Company{}, "Count"); err != nil {
		return err
	}

	err := txn.Exec(`UPDATE companies SET count = (SELECT COUNT(*) FROM patch_companies WHERE patch_companies.company_id = companies.id)`).Error
	if err != nil {
		return err
	}

	log.Println("table 'companies' migration complete")

	return nil
}

func migratePatch(txn *gorm.DB) error {
	log.Println("migrating table 'patches'")

	type Patch struct{}

	if err := txn.Migrator().RenameColumn(&Patch{}, "introduction", "content"); err != nil {
		return err
	}

	if err := txn.Migrator().DropColumn(&Patch{}, "alias"); err != nil {
		return err
	}

	log.Println("table 'patches' migration complete")

	return nil
}

func migrateMessage(txn *gorm.DB) error {
	log.Println("migrating table 'messages'")

	type Message struct {
		Status int `gorm:"not null;default:0"`
	}

	if err := txn.Migrator().AddColumn(&Message{}, "Status"); err != nil {
		return err
	}

	// Messages previously tracked a read flag instead of a status enum.
	err := txn.Model(&Message{}).Where("read = ?", true).Update("status", 1).Error
	if err != nil {
		return err
	}

	if err := txn.Migrator().DropColumn(&Message{}, "read"); err != nil {
		return err
	}

	log.Println("table 'messages' migration complete")

	return nil
}

func Migration_0_initial_migration(txn *gorm.DB) error {
	log.Println("performing initial migration to new backend schema")

	if err := migrateTag(txn); err != nil {
		return err
	}

	if err := migrateCompany(txn); err != nil {
		return err
	}

	if err := migratePatch(txn); err != nil {
		return err
	}

	if err := migrateMessage(txn); err != nil {
		return err
	}

	log.Println("initial migration to new backend schema complete")

	return nil
}
