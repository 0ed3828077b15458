package protocol

// Command ids as defined by the device firmware. The values have to match
// bit-exactly; they are shared between the Pro, Storage and Librem Key
// firmware lines.
type CommandID byte

const (
	// Smart card commands.
	CmdGetStatus                 CommandID = 0x00
	CmdWriteToSlot               CommandID = 0x01
	CmdReadSlotName              CommandID = 0x02
	CmdReadSlot                  CommandID = 0x03
	CmdGetCode                   CommandID = 0x04
	CmdWriteConfig               CommandID = 0x05
	CmdEraseSlot                 CommandID = 0x06
	CmdFirstAuthenticate         CommandID = 0x07
	CmdAuthorize                 CommandID = 0x08
	CmdGetPasswordRetryCount     CommandID = 0x09
	CmdClearWarning              CommandID = 0x0A
	CmdSetTime                   CommandID = 0x0B
	CmdTestCounter               CommandID = 0x0C
	CmdTestTime                  CommandID = 0x0D
	CmdUserAuthenticate          CommandID = 0x0E
	CmdGetUserPasswordRetryCount CommandID = 0x0F
	CmdUserAuthorize             CommandID = 0x10
	CmdUnlockUserPassword        CommandID = 0x11
	CmdLockDevice                CommandID = 0x12
	CmdFactoryReset              CommandID = 0x13
	CmdChangeUserPin             CommandID = 0x14
	CmdChangeAdminPin            CommandID = 0x15

	// Storage controller commands.
	CmdEnableEncryptedVolume  CommandID = 0x20
	CmdDisableEncryptedVolume CommandID = 0x21
	CmdEnableHiddenVolume     CommandID = 0x22
	CmdDisableHiddenVolume    CommandID = 0x23
	CmdEnableFirmwareUpdate   CommandID = 0x24
	CmdExportFirmware         CommandID = 0x25
	CmdGenerateNewKeys        CommandID = 0x26
	CmdFillSdCard             CommandID = 0x27
	CmdWriteStatusData        CommandID = 0x28
	CmdSetUnencryptedReadOnly CommandID = 0x29
	CmdSetUnencryptedReadWrit CommandID = 0x2A
	CmdGetDeviceStatus        CommandID = 0x2E
	CmdSendDeviceStatus       CommandID = 0x2F
	CmdSetHiddenVolumeSetup   CommandID = 0x31
	CmdSetEncryptedReadOnly   CommandID = 0x32
	CmdSetEncryptedReadWrite  CommandID = 0x33
	CmdClearNewSdCardFound    CommandID = 0x34
	CmdGetProductionInfo      CommandID = 0x38
	CmdChangeUpdatePin        CommandID = 0x43
	CmdGetSdCardOccupancy     CommandID = 0x70
	CmdWink                   CommandID = 0x71

	// Password safe commands.
	CmdGetPasswordSafeSlotStatus   CommandID = 0x60
	CmdGetPasswordSafeSlotName     CommandID = 0x61
	CmdGetPasswordSafeSlotPassword CommandID = 0x62
	CmdGetPasswordSafeSlotLogin    CommandID = 0x63
	CmdSetPasswordSafeSlotData1    CommandID = 0x64
	CmdSetPasswordSafeSlotData2    CommandID = 0x65
	CmdPasswordSafeEraseSlot       CommandID = 0x66
	CmdPasswordSafeEnable          CommandID = 0x67
	CmdPasswordSafeInitKey         CommandID = 0x68
	CmdPasswordSafeSendData        CommandID = 0x69
	CmdDetectScAes                 CommandID = 0x6A
	CmdBuildAesKey                 CommandID = 0x6B
)

// AuthClass is the authentication a command requires before the firmware
// accepts it. For privileged smart card commands the class selects the
// prefix command (Authorize or UserAuthorize) that carries the session
// temporary password; storage controller commands carry the password in
// their own payload instead.
type AuthClass int

const (
	AuthNone AuthClass = iota
	AuthUser
	AuthAdmin
	AuthUpdatePassword
	AuthPasswordSafe
)

// Spec describes one registry entry.
type Spec struct {
	ID   CommandID
	Auth AuthClass
	// LongRunning marks commands that start a background operation on the
	// storage controller. Their acknowledge is a WrongCrc status (firmware
	// quirk) which the command dispatch masks.
	LongRunning bool
}

var registry = map[CommandID]Spec{
	CmdGetStatus:                 {ID: CmdGetStatus},
	CmdWriteToSlot:               {ID: CmdWriteToSlot, Auth: AuthAdmin},
	CmdReadSlotName:              {ID: CmdReadSlotName},
	CmdReadSlot:                  {ID: CmdReadSlot},
	CmdGetCode:                   {ID: CmdGetCode, Auth: AuthUser}, // prefix only with the user password option set
	CmdWriteConfig:               {ID: CmdWriteConfig, Auth: AuthAdmin},
	CmdEraseSlot:                 {ID: CmdEraseSlot, Auth: AuthAdmin},
	CmdFirstAuthenticate:         {ID: CmdFirstAuthenticate},
	CmdAuthorize:                 {ID: CmdAuthorize},
	CmdGetPasswordRetryCount:     {ID: CmdGetPasswordRetryCount},
	CmdClearWarning:              {ID: CmdClearWarning},
	CmdSetTime:                   {ID: CmdSetTime},
	CmdUserAuthenticate:          {ID: CmdUserAuthenticate},
	CmdGetUserPasswordRetryCount: {ID: CmdGetUserPasswordRetryCount},
	CmdUserAuthorize:             {ID: CmdUserAuthorize},
	CmdUnlockUserPassword:        {ID: CmdUnlockUserPassword, Auth: AuthAdmin},
	CmdLockDevice:                {ID: CmdLockDevice},
	CmdFactoryReset:              {ID: CmdFactoryReset, Auth: AuthAdmin},
	CmdChangeUserPin:             {ID: CmdChangeUserPin},
	CmdChangeAdminPin:            {ID: CmdChangeAdminPin},

	CmdEnableEncryptedVolume:  {ID: CmdEnableEncryptedVolume, Auth: AuthUser},
	CmdDisableEncryptedVolume: {ID: CmdDisableEncryptedVolume},
	CmdEnableHiddenVolume:     {ID: CmdEnableHiddenVolume},
	CmdDisableHiddenVolume:    {ID: CmdDisableHiddenVolume},
	CmdEnableFirmwareUpdate:   {ID: CmdEnableFirmwareUpdate, Auth: AuthUpdatePassword},
	CmdExportFirmware:         {ID: CmdExportFirmware, Auth: AuthAdmin},
	CmdGenerateNewKeys:        {ID: CmdGenerateNewKeys, Auth: AuthAdmin},
	CmdFillSdCard:             {ID: CmdFillSdCard, Auth: AuthAdmin, LongRunning: true},
	CmdSetUnencryptedReadOnly: {ID: CmdSetUnencryptedReadOnly, Auth: AuthAdmin},
	CmdSetUnencryptedReadWrit: {ID: CmdSetUnencryptedReadWrit, Auth: AuthAdmin},
	CmdGetDeviceStatus:        {ID: CmdGetDeviceStatus},
	CmdSetHiddenVolumeSetup:   {ID: CmdSetHiddenVolumeSetup},
	CmdSetEncryptedReadOnly:   {ID: CmdSetEncryptedReadOnly, Auth: AuthAdmin},
	CmdSetEncryptedReadWrite:  {ID: CmdSetEncryptedReadWrite, Auth: AuthAdmin},
	CmdClearNewSdCardFound:    {ID: CmdClearNewSdCardFound, Auth: AuthAdmin},
	CmdGetProductionInfo:      {ID: CmdGetProductionInfo},
	CmdChangeUpdatePin:        {ID: CmdChangeUpdatePin, Auth: AuthUpdatePassword},
	CmdGetSdCardOccupancy:     {ID: CmdGetSdCardOccupancy},
	CmdWink:                   {ID: CmdWink},

	CmdGetPasswordSafeSlotStatus:   {ID: CmdGetPasswordSafeSlotStatus, Auth: AuthPasswordSafe},
	CmdGetPasswordSafeSlotName:     {ID: CmdGetPasswordSafeSlotName, Auth: AuthPasswordSafe},
	CmdGetPasswordSafeSlotPassword: {ID: CmdGetPasswordSafeSlotPassword, Auth: AuthPasswordSafe},
	CmdGetPasswordSafeSlotLogin:    {ID: CmdGetPasswordSafeSlotLogin, Auth: AuthPasswordSafe},
	CmdSetPasswordSafeSlotData1:    {ID: CmdSetPasswordSafeSlotData1, Auth: AuthPasswordSafe},
	CmdSetPasswordSafeSlotData2:    {ID: CmdSetPasswordSafeSlotData2, Auth: AuthPasswordSafe},
	CmdPasswordSafeEraseSlot:       {ID: CmdPasswordSafeEraseSlot, Auth: AuthPasswordSafe},
	CmdPasswordSafeEnable:          {ID: CmdPasswordSafeEnable},
	CmdBuildAesKey:                 {ID: CmdBuildAesKey, Auth: AuthAdmin},
}

// Lookup returns the registry entry for id. Unknown ids get a zero Spec
// with only the id filled in; the firmware will answer UnknownCommand.
func Lookup(id CommandID) Spec {
	if s, ok := registry[id]; ok {
		return s
	}
	return Spec{ID: id}
}

// IsLongRunning reports whether id starts a background operation.
func IsLongRunning(id CommandID) bool {
	return Lookup(id).LongRunning
}
