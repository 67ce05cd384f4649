package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `Ok!`
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgStartPrompt   = `
		*DriverCheck*

		/report Jonas Jonaitis; what happened - file an incident report
		/search Jonas Jonaitis - find reports about a driver
		/watch Jonas Jonaitis - get notified about new reports
		/categories - list incident categories`
	MsgStartAdmin = `

		*Admin*
		/import reports or /import users - bulk import from an .xlsx file
		/admin - user, subscription and audit commands`
	MsgUnknownCommand = "Unknown command. Send /start to see what I can do."
	MsgVersionInfo    = "Version: %s\nBuilt: %s"
)

// =============================================================================
// Access and registration messages
// =============================================================================

const (
	MsgRegisterFirst        = "You are not registered yet. Use `/register email; company code; company name`"
	MsgRegisterUsage        = "Usage: `/register email; company code; company name`"
	MsgRegisterInvalid      = "Registration is not valid:\n%s"
	MsgRegisterDuplicate    = "A company with that email or company code is already registered."
	MsgRegistered           = "✅ Registration received. An administrator will review it shortly."
	MsgAlreadyRegistered    = "You are already registered as *%s* (status: %s)."
	MsgRegisterLinked       = "✅ Linked to the company account *%s* (status: %s)."
	MsgAwaitingApproval     = "Your registration is waiting for administrator approval."
	MsgAccountBlocked       = "Your account is blocked. Contact the administrator."
	MsgSubscriptionInactive = "Your subscription is not active. Contact the administrator to renew it."
	MsgAdminNewRegistration = "🆕 New registration: *%s* (%s, %s)\nApprove with `/admin users approve %s`"
)

// =============================================================================
// Report and search messages
// =============================================================================

const (
	MsgReportUsage          = "Usage: `/report driver full name; what happened`"
	MsgReportInvalid        = "Report is not valid:\n%s"
	MsgReportSaved          = "✅ Report saved.\nCategory: *%s*%s"
	MsgReportSavedDegraded  = "✅ Report saved without a category: %s"
	MsgReportTags           = "\nTags: %s"
	MsgSearchQueryMissing   = "Usage: `/search driver full name`"
	MsgSearchNoResults      = "No reports found for *%s*."
	MsgSearchResults        = "*Reports for %s* (%s)\n\n"
	MsgSearchResultItem     = "%d. *%s*%s\n%s\n_%s_\n\n"
	MsgCategoriesHeader     = "*Incident categories*\n\n"
	MsgCategoryItem         = "• `%s`%s\n"
	MsgClassificationFailed = "classification is unavailable right now"
)

// =============================================================================
// Import messages
// =============================================================================

const (
	MsgImportUsage           = "Usage: `/import reports` or `/import users`, then send the .xlsx file."
	MsgImportSendFile        = "Send the .xlsx file with %s."
	MsgImportNotXLSX         = "Only .xlsx workbooks can be imported."
	MsgImportFileTooLarge    = "The file is too large (max %d MB)."
	MsgImportDownloadFailed  = "Error: could not download the file"
	MsgImportUnreadable      = "Could not read the workbook: %s"
	MsgImportMissingColumns  = "The sheet is missing required columns: %s\nNothing was imported."
	MsgImportNoRows          = "The sheet has no data rows."
	MsgImportAlreadyRunning  = "An import is already in progress. /cancel it first."
	MsgImportStarted         = "Importing %s from *%s*..."
	MsgImportStatus          = "*Import %s* (%s)\n%s\n\n✅ %d completed · ❌ %d errors · ⏭ %d skipped · ⏳ %d pending"
	MsgImportStatusRunning   = "processing row %d of %d"
	MsgImportStatusDone      = "finished"
	MsgImportStatusCancelled = "cancelled"
	MsgImportQuotaExhausted  = "⚠️ Classification quota exhausted. Remaining rows are skipped; they can still be imported without a category."
	MsgImportFinished        = "Import finished: %s.\n%s\n/commit to save, /cancel to discard."
	MsgImportErrorsHeader    = "*Rows with problems:*\n"
	MsgImportErrorItem       = "Row %d: %s\n"
	MsgImportMoreErrors      = "...and %d more\n"
	MsgImportCancelling      = "Cancelling after the current row..."
	MsgImportCancelled       = "Import cancelled: %s.\n%s\nNothing was saved."
	MsgImportDiscarded       = "Import discarded."
	MsgImportNothingToCommit = "No finished import to commit."
	MsgImportStillRunning    = "The import is still running. Wait for it to finish or /cancel it."
	MsgImportCommitted       = "✅ Imported %d of %d rows."
	MsgImportCommitDegraded  = "\n%d reports were stored without a category."
	MsgImportCommitFailed    = "Import was not saved: %s"
	MsgNothingToCancel       = "Nothing to cancel."
)

// =============================================================================
// Watch messages
// =============================================================================

const (
	MaxWatchesPerUser = 20

	MsgWatchQueryMissing  = "Usage: `/watch driver full name`"
	MsgWatchCreated       = "🔔 Watching *%s*. You will be notified about new reports."
	MsgWatchAlreadyExists = "You are already watching *%s*."
	MsgWatchLimitReached  = "You can have at most %d watches. Remove some with /watches."
	MsgNoWatches          = "You have no watches. Create one with `/watch driver name`."
	MsgWatchesHeader      = "*Your watches* (%d)\n\n"
	MsgWatchItem          = "%d. %s\n"
	MsgWatchDeleted       = "Watch removed."
	MsgWatchNotFound      = "Watch not found."
	MsgUnwatchUsage       = "Usage: `/unwatch <number>` (see /watches)"
	BtnDeleteWatch        = "❌"
	BtnClose              = "Close"
)

// =============================================================================
// Admin command messages
// =============================================================================

const (
	MsgAdminUsage = "Usage:\n" +
		"`/admin users list`\n" +
		"`/admin users approve <email>`\n" +
		"`/admin users block <email>`\n" +
		"`/admin subscription <email> <days>`\n" +
		"`/admin audit [count]`"
	MsgAdminUserNotFound        = "No profile with email `%s`."
	MsgAdminNoUsers             = "No registered users."
	MsgAdminUsersHeader         = "*Users* (%d)\n"
	MsgAdminUserItem            = "• %s `%s` %s, %s%s\n"
	MsgAdminStatusChanged       = "✅ %s is now %s."
	MsgAdminSubscriptionUsage   = "Usage: `/admin subscription <email> <days>`"
	MsgAdminSubscriptionInvalid = "Days must be a positive number."
	MsgAdminSubscriptionSet     = "✅ Subscription of %s is valid until %s."
	MsgAdminAuditEmpty          = "The audit log is empty."
	MsgAdminAuditHeader         = "*Audit log* (latest %d)\n"
	MsgAdminAuditItem           = "`%s` %s *%s* %s\n"
	MsgUserApproved             = "✅ Your registration was approved."
	MsgUserBlocked              = "Your account was blocked by the administrator."
	MsgUserSubscriptionSet      = "Your subscription is valid until %s."
)
