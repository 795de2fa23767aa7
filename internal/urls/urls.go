package urls

// Reference URLs for the BLUFI protocol and its firmware side.

// BlufiGuide is Espressif's description of the BLUFI protocol: frame
// format, key negotiation and the provisioning sequence.
const BlufiGuide = "https://docs.espressif.com/projects/esp-idf/en/latest/esp32/api-guides/ble/blufi.html"

// BlufiExample is the reference device firmware. Flash it to get a device
// that speaks the same dialect as this client.
const BlufiExample = "https://github.com/espressif/esp-idf/tree/master/examples/bluetooth/blufi"

// BlueZ is the Linux Bluetooth stack the BLE transport depends on.
const BlueZ = "http://www.bluez.org/"
